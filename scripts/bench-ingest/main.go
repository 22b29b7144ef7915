// bench-ingest measures ingestion throughput and heap growth of the
// measurement pipeline against the in-memory store.
//
// Usage:
//
//	go run ./scripts/bench-ingest --entries 50000 --streams 20 \
//	  --profile-dir /tmp/bench-ingest
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/example/carbonplane/internal/bus"
	"github.com/example/carbonplane/internal/calc"
	"github.com/example/carbonplane/internal/domain"
	"github.com/example/carbonplane/internal/factors"
	"github.com/example/carbonplane/internal/ingest"
	"github.com/example/carbonplane/internal/observability"
	"github.com/example/carbonplane/internal/registry"
	"github.com/example/carbonplane/internal/storage"
	"github.com/example/carbonplane/internal/summary"
)

func main() {
	entries := flag.Int("entries", 50000, "Total entries to ingest")
	streams := flag.Int("streams", 20, "Number of distinct streams")
	batch := flag.Int("batch", 50, "Rows per ingest call")
	profileDir := flag.String("profile-dir", "", "Directory to write heap profiles (optional)")
	cpuProfile := flag.Bool("cpu-profile", false, "Write CPU profile to profile-dir/cpu.prof")

	flag.Parse()

	if *cpuProfile && *profileDir == "" {
		log.Fatal("--cpu-profile requires --profile-dir")
	}

	ctx := context.Background()
	logger := observability.NewLogger("warn", "text", "discard")

	stores, _ := storage.NewMemoryStores()
	catalogue := factors.NewCatalogue(factors.WithLogger(logger))
	engine := calc.NewEngine(catalogue, logger)
	publisher := bus.NewMemory()
	reg := registry.New(stores.Flowcharts, publisher, logger)
	materialiser := summary.NewMaterialiser(stores, time.UTC, logger)

	pipeline := ingest.New(ingest.Config{
		Stores:    stores,
		Registry:  reg,
		Engine:    engine,
		Catalogue: catalogue,
		Publisher: publisher,
		Invalid:   materialiser,
		Logger:    logger,
		Timezone:  time.UTC,
	})

	admin := domain.Principal{ID: "bench", Role: domain.RoleAdmin, ClientID: "bench-client"}

	if err := seedChart(ctx, reg, admin, *streams); err != nil {
		log.Fatalf("seed flowchart: %v", err)
	}

	if *cpuProfile {
		f, err := os.Create(filepath.Join(*profileDir, "cpu.prof"))
		if err != nil {
			log.Fatalf("create cpu profile: %v", err)
		}
		defer f.Close()

		if err = pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("start cpu profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	before := heapInUse()
	started := time.Now()

	ingested := 0
	base := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	for ingested < *entries {
		stream := ingested % *streams
		rows := make([]ingest.RawRow, 0, *batch)

		for i := 0; i < *batch && ingested+i < *entries; i++ {
			ts := base.Add(time.Duration(ingested+i) * time.Minute)
			rows = append(rows, ingest.RawRow{
				Date:   ingest.FormatDate(ts),
				Time:   ingest.FormatTime(ts),
				Values: map[string]float64{"fuelConsumption": float64(50 + (ingested+i)%100)},
			})
		}

		report, err := pipeline.Ingest(ctx, admin, ingest.Request{
			ClientID:        "bench-client",
			NodeID:          "node-0",
			ScopeIdentifier: fmt.Sprintf("stream-%d", stream),
			Input:           ingest.Manual{Rows: rows},
		})
		if err != nil {
			log.Fatalf("ingest batch at %d: %v", ingested, err)
		}

		ingested += report.Accepted + len(report.Rejected)
	}

	elapsed := time.Since(started)
	after := heapInUse()

	if *profileDir != "" {
		writeHeapProfile(*profileDir)
	}

	fmt.Printf("entries:     %s\n", humanize.Comma(int64(*entries)))
	fmt.Printf("streams:     %d\n", *streams)
	fmt.Printf("elapsed:     %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("throughput:  %s entries/s\n",
		humanize.Comma(int64(float64(*entries)/elapsed.Seconds())))
	fmt.Printf("heap before: %s\n", humanize.Bytes(before))
	fmt.Printf("heap after:  %s\n", humanize.Bytes(after))
}

// seedChart registers one node carrying a custom-factor scope per stream so
// every ingested row resolves without external factor data.
func seedChart(ctx context.Context, reg *registry.Registry, admin domain.Principal, streams int) error {
	node := domain.Node{ID: "node-0", Label: "Bench Node"}

	for i := 0; i < streams; i++ {
		node.Scopes = append(node.Scopes, domain.ScopeDescriptor{
			ScopeIdentifier: fmt.Sprintf("stream-%d", i),
			ScopeType:       domain.Scope1,
			CategoryName:    "stationary_combustion",
			Activity:        "fuel_combustion",
			InputType:       domain.InputManual,
			EmissionFactor:  domain.SourceCustom,
			CustomFactor:    &domain.FactorValues{CO2e: 2.68, Unit: "L"},
		})
	}

	_, err := reg.UpsertFlowchart(ctx, admin, &domain.Flowchart{
		ClientID: "bench-client",
		Kind:     domain.ChartOrganisation,
		Nodes:    []domain.Node{node},
	})

	return err
}

func heapInUse() uint64 {
	runtime.GC()

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	return stats.HeapInuse
}

func writeHeapProfile(dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("create profile dir: %v", err)

		return
	}

	f, err := os.Create(filepath.Join(dir, "heap.prof"))
	if err != nil {
		log.Printf("create heap profile: %v", err)

		return
	}
	defer f.Close()

	runtime.GC()

	if err = pprof.WriteHeapProfile(f); err != nil {
		log.Printf("write heap profile: %v", err)
	}
}
