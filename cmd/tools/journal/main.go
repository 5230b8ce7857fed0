package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"spotledger/internal/recorder"
	"spotledger/internal/store"
)

func main() {
	dir := flag.String("dir", "data/journal", "journal directory")
	prefix := flag.String("prefix", "", "segment file prefix (default: cycles)")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	decode := flag.Bool("decode", false, "Decode cycle records")
	flag.Parse()

	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:              *dir,
		FilePrefix:       *prefix,
		DisableChecksum:  *noChecksum,
		MaxPayloadSize:   *maxPayload,
		TolerateTornTail: true,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	var index int
	err = pb.Run(context.Background(), func(header recorder.Header, payload []byte) error {
		index++
		fmt.Printf("%06d seq=%d kind=%s schema=%d hour=%s committed=%s len=%d\n", index, header.Seq, kindName(header.Kind),
			header.SchemaVersion, time.Unix(header.Hour, 0).UTC().Format(time.RFC3339),
			time.Unix(0, header.CommittedAt).UTC().Format(time.RFC3339Nano), len(payload))
		if *decode && header.Kind == recorder.KindCycle {
			printCycle(payload)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("playback run failed: %v", err)
	}
}

func kindName(k recorder.Kind) string {
	switch k {
	case recorder.KindCycle:
		return "Cycle"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

func printCycle(payload []byte) {
	rec, err := store.Decode(payload)
	if err != nil {
		fmt.Printf("  decode cycle failed: %v\n", err)
		return
	}
	fmt.Printf("  run %s\n", rec.Key())
	fmt.Printf("  signals=%d orders=%d fills=%d lots=%d trades=%d ledger=%d events=%d\n",
		len(rec.Signals), len(rec.Orders), len(rec.Fills), len(rec.Lots), len(rec.Trades), len(rec.Ledger), len(rec.Events))
	fmt.Printf("  cash=%s value=%s tier=%s kill=%t\n",
		rec.Portfolio.Cash, rec.Portfolio.TotalValue, rec.RiskState.Tier, rec.RiskState.KillSwitchActive)
	for _, e := range rec.Ledger {
		fmt.Printf("  ledger seq=%d %s delta=%s balance=%s\n", e.Seq, e.Kind, e.DeltaCash, e.BalanceAfter)
	}
	fmt.Printf("  root=%s\n", rec.Manifest.ReplayRootHash)
}
