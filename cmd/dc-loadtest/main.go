// dc-loadtest drives a burst of small packets from one Control to a peer
// and reports achieved throughput, exercising the write-combining path of
// spec.md §8 (S3) under either sender variant.
//
// Run: go run ./cmd/dc-loadtest -buffered=false -messages=200000 -size=64
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/big-pixel-media/graphdc"
)

func main() {
	buffered := flag.Bool("buffered", false, "use the buffered-stream sender instead of the expqueue sender")
	messages := flag.Int("messages", 200_000, "number of packets to send")
	size := flag.Int("size", 64, "payload size in bytes")
	flag.Parse()

	machines := []string{"127.0.0.1:17101", "127.0.0.1:17102"}

	var received int64
	var mu sync.Mutex
	done := make(chan struct{})

	sinkHandler := func(source dc.ProcID, kind dc.PacketKind, payload []byte, seqKey uint64) {
		mu.Lock()
		received++
		n := received
		mu.Unlock()
		if n == int64(*messages) {
			close(done)
		}
	}

	opts := []dc.Option{dc.WithBufferedSend(*buffered)}
	sender := dc.NewControl(func(dc.ProcID, dc.PacketKind, []byte, uint64) {}, opts...)
	sink := dc.NewControl(sinkHandler, opts...)

	var wg sync.WaitGroup
	wg.Add(2)
	var errSender, errSink error
	go func() { defer wg.Done(); errSender = sender.Init(context.Background(), machines, 0) }()
	go func() { defer wg.Done(); errSink = sink.Init(context.Background(), machines, 1) }()
	wg.Wait()
	if errSender != nil {
		log.Fatalf("init sender: %v", errSender)
	}
	if errSink != nil {
		log.Fatalf("init sink: %v", errSink)
	}
	defer sender.Shutdown()
	defer sink.Shutdown()

	payload := make([]byte, *size)
	start := time.Now()
	for i := 0; i < *messages; i++ {
		if err := sender.SendData(1, dc.StandardCall, payload); err != nil {
			log.Fatalf("SendData: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(60 * time.Second):
		log.Fatal("timed out waiting for all packets to arrive")
	}
	elapsed := time.Since(start)

	fmt.Printf("sent %d packets of %d bytes in %s (%.0f packets/sec, %.1f MB/sec)\n",
		*messages, *size, elapsed,
		float64(*messages)/elapsed.Seconds(),
		float64(*messages**size)/elapsed.Seconds()/1e6)
	fmt.Printf("sender metrics: %+v\n", sender.Metrics())
}
