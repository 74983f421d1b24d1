// dc-roundtrip starts two in-process Control instances on localhost and
// exchanges a single call packet in each direction, demonstrating the
// round-trip scenario of spec.md §8 (S1).
//
// Run: go run ./cmd/dc-roundtrip
package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/big-pixel-media/graphdc"
)

func main() {
	machines := []string{"127.0.0.1:17001", "127.0.0.1:17002"}

	received := make(chan string, 2)
	handler := func(tag dc.ProcID) dc.ReceiveFunc {
		return func(source dc.ProcID, kind dc.PacketKind, payload []byte, seqKey uint64) {
			received <- fmt.Sprintf("proc %d got %q from proc %d (seq=%d)", tag, payload, source, seqKey)
		}
	}

	ctrlA := dc.NewControl(handler(0))
	ctrlB := dc.NewControl(handler(1))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = ctrlA.Init(context.Background(), machines, 0)
	}()
	go func() {
		defer wg.Done()
		errs[1] = ctrlB.Init(context.Background(), machines, 1)
	}()
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			log.Fatalf("init: %v", err)
		}
	}
	defer ctrlA.Shutdown()
	defer ctrlB.Shutdown()

	if err := ctrlA.SendData(1, dc.StandardCall, []byte("hello from A")); err != nil {
		log.Fatalf("SendData A->B: %v", err)
	}
	if err := ctrlB.SendData(0, dc.StandardCall, []byte("hello from B")); err != nil {
		log.Fatalf("SendData B->A: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case msg := <-received:
			fmt.Println(msg)
		case <-time.After(5 * time.Second):
			log.Fatal("timed out waiting for round trip")
		}
	}

	fmt.Printf("A metrics: %+v\n", ctrlA.Metrics())
	fmt.Printf("B metrics: %+v\n", ctrlB.Metrics())
}
