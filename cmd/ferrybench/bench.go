package main

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/vertexlab/ferry/collective/inproc"
	"github.com/vertexlab/ferry/comm"
	"github.com/vertexlab/ferry/commstats"
	"github.com/vertexlab/ferry/monitoring"
)

var (
	minSendExp int
	maxSendExp int
	totalBytes uint64
	checkData  bool
)

var barrierCmd = &cobra.Command{
	Use:   "barrier",
	Short: "Measure barrier latency over 100 iterations.",
	Run: func(cmd *cobra.Command, args []string) {
		runCluster(func(c *comm.Comm) {
			const iterations = 100

			start := time.Now()
			for i := 0; i < iterations; i++ {
				c.Barrier()
			}

			if c.Rank() == 0 {
				avg := time.Since(start) / iterations
				fmt.Printf("Barrier in %.3f ms\n",
					float64(avg.Microseconds())/1000)
			}
		})
	},
}

var p2pCmd = &cobra.Command{
	Use:   "p2p",
	Short: "Measure point-to-point throughput from rank 0 to rank 1.",
	Long: `p2p streams a fixed total volume from rank 0 to rank 1 in ` +
		`power-of-two chunk sizes and reports the throughput of each size.`,
	Run: func(cmd *cobra.Command, args []string) {
		runCluster(runP2P)
	},
}

func init() {
	rootCmd.AddCommand(barrierCmd)
	rootCmd.AddCommand(p2pCmd)

	p2pCmd.Flags().IntVar(&minSendExp, "min-exp", 4,
		"smallest chunk size as a power of two")
	p2pCmd.Flags().IntVar(&maxSendExp, "max-exp", 24,
		"one past the largest chunk size as a power of two")
	p2pCmd.Flags().Uint64Var(&totalBytes, "total", 64*1024*1024,
		"bytes to stream per chunk size")
	p2pCmd.Flags().BoolVar(&checkData, "check", false,
		"verify the content of every received chunk")
}

// runCluster builds the in-process cluster, runs body once per rank on
// its own goroutine, and tears the cluster down.
func runCluster(body func(c *comm.Comm)) {
	if numRanks < 2 {
		log.Fatal("ferrybench needs at least 2 ranks")
	}

	var recorder commstats.Recorder
	if statsDB != "" {
		recorder = commstats.NewSQLiteRecorder(statsDB)
	}

	cluster := inproc.MakeBuilder().WithSize(numRanks).Build()
	comms := make([]*comm.Comm, numRanks)
	for r := 0; r < numRanks; r++ {
		b := comm.MakeBuilder().
			WithCommunicator(cluster.Communicator(r)).
			WithSendWindowSize(windowSize)
		if recorder != nil {
			b = b.WithStatsRecorder(recorder)
		}
		comms[r] = b.Build(fmt.Sprintf("node%d", r))
	}

	if monitorPort > 0 {
		monitor := monitoring.NewMonitor().WithPortNumber(monitorPort)
		for _, c := range comms {
			monitor.RegisterComm(c)
		}
		monitor.StartServer()
	}

	var wg sync.WaitGroup
	for _, c := range comms {
		wg.Add(1)
		go func(c *comm.Comm) {
			defer wg.Done()
			body(c)
			c.Close()
		}(c)
	}
	wg.Wait()

	if r, ok := recorder.(*commstats.SQLiteRecorder); ok && r != nil {
		r.Close()
	}
}

func runP2P(c *comm.Comm) {
	c.Barrier()

	for exp := minSendExp; exp < maxSendExp; exp++ {
		chunk := uint64(1) << exp
		iterations := totalBytes / chunk
		start := time.Now()

		switch c.Rank() {
		case 0:
			payload := make([]byte, chunk)
			for i := range payload {
				payload[i] = byte(exp)
			}
			for j := uint64(0); j < iterations; j++ {
				c.Send(1, payload)
			}
			reportP2P(c, "Send", chunk, start)
			c.Flush()
		case 1:
			for j := uint64(0); j < iterations; j++ {
				receiveChunk(c, chunk, exp)
			}
			reportP2P(c, "Receive", chunk, start)
		}

		c.Barrier()
	}
}

func receiveChunk(c *comm.Comm, chunk uint64, exp int) {
	for {
		msg, ok := c.Receive(0)
		if !ok {
			time.Sleep(100 * time.Microsecond)
			continue
		}

		if uint64(len(msg)) != chunk {
			log.Panicf("received %d bytes, want %d", len(msg), chunk)
		}
		if checkData {
			for _, b := range msg {
				if b != byte(exp) {
					log.Panicf("corrupted chunk of size %d", chunk)
				}
			}
		}

		return
	}
}

func reportP2P(c *comm.Comm, verb string, chunk uint64, start time.Time) {
	elapsed := time.Since(start).Seconds()
	fmt.Printf("%s of %dMB in %d byte chunks in %.3f s (%.1f MBps)\n",
		verb, totalBytes/1024/1024, chunk, elapsed,
		float64(totalBytes)/elapsed/1024/1024)
}
