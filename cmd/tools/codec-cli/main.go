package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/annel0/blockcodec/internal/eventbus"
	"github.com/annel0/blockcodec/internal/registry"
	"github.com/annel0/blockcodec/internal/section"
	"github.com/annel0/blockcodec/internal/util"
)

const (
	defaultNATS = "nats://localhost:4222"
	timeFormat  = "15:04:05"
)

func main() {
	var (
		command  = flag.String("cmd", "tail", "Command: tail, bench, inspect")
		natsURL  = flag.String("nats", defaultNATS, "NATS JetStream URL")
		stream   = flag.String("stream", "CODEC_EVENTS", "JetStream stream name")
		types    = flag.String("types", "", "Event types filter (comma-separated)")
		sources  = flag.String("sources", "", "Source nodes filter (comma-separated)")
		limit    = flag.Int("limit", 0, "Stop after N events (0 = follow)")
		defs     = flag.String("defs", "", "Block definitions YAML (default layout when empty)")
		sections = flag.Int("n", 1000, "bench: number of sections")
		workers  = flag.Int("workers", 0, "bench: decode workers (0 = GOMAXPROCS)")
		seed     = flag.Int64("seed", 42, "bench: noise seed")
		file     = flag.String("file", "", "inspect: file with an encoded section")
	)
	flag.Parse()

	switch *command {
	case "tail":
		if err := tailEvents(*natsURL, *stream, eventbus.Filter{
			Types:   parseStringList(*types),
			Sources: parseStringList(*sources),
		}, *limit); err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}

	case "bench":
		l, blocks, err := benchLayout(*defs)
		if err != nil {
			log.Fatalf("❌ Definitions: %v", err)
		}
		if err := runBench(l, blocks, *sections, *workers, *seed); err != nil {
			log.Fatalf("❌ Bench failed: %v", err)
		}

	case "inspect":
		if err := inspect(*defs, *file); err != nil {
			log.Fatalf("❌ Inspect failed: %v", err)
		}

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, bench, inspect")
		os.Exit(1)
	}
}

// tailEvents выводит события кодека из JetStream до Ctrl+C или лимита
func tailEvents(url, stream string, filter eventbus.Filter, limit int) error {
	bus, err := eventbus.NewJetStreamBus(url, stream, 24*time.Hour)
	if err != nil {
		return err
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("🎬 Tailing %s (types: %v, sources: %v)\n", stream, filter.Types, filter.Sources)

	var count int64
	sub, err := bus.Subscribe(ctx, filter, func(_ context.Context, ev *eventbus.Envelope) {
		printEvent(ev)
		if n := atomic.AddInt64(&count, 1); limit > 0 && n >= int64(limit) {
			stop()
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	fmt.Printf("\n📊 Total events: %d\n", atomic.LoadInt64(&count))
	return nil
}

// printEvent выводит событие в читаемом формате
func printEvent(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] %s\n", ev.Timestamp.Format(timeFormat), ev.Source, ev.EventType, ev.ID)

	switch ev.EventType {
	case eventbus.TypeSectionDiscarded:
		var p eventbus.SectionDiscarded
		if err := eventbus.DecodePayload(ev, &p); err == nil {
			fmt.Printf("  Version: %s Index: %d Reason: %s Size: %d\n", p.Version, p.Index, p.Reason, p.Size)
			fmt.Printf("  Error: %s\n", p.Error)
		}
	case eventbus.TypeRegistryFrozen:
		var p eventbus.RegistryFrozen
		if err := eventbus.DecodePayload(ev, &p); err == nil {
			fmt.Printf("  Version: %s Types: %d States: %d Bits: %d\n", p.Version, p.Types, p.States, p.GlobalBits)
		}
	}
}

// benchLayout возвращает раскладку и набор блоков для шума: воздух и до 15 твёрдых
func benchLayout(defsPath string) (section.Layout, []uint32, error) {
	if defsPath == "" {
		return section.DefaultLayout, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8}, nil
	}
	reg, err := loadRegistry(defsPath)
	if err != nil {
		return section.Layout{}, nil, err
	}

	blocks := []uint32{0}
	if air, ok := reg.DefaultGlobal("minecraft:air"); ok {
		blocks[0] = uint32(air)
	}
	for _, info := range reg.Ranges() {
		if len(blocks) > 15 {
			break
		}
		if !reg.IsAir(info.Start) {
			blocks = append(blocks, uint32(info.Start))
		}
	}
	return section.ForRegistry(reg, 6), blocks, nil
}

func runBench(l section.Layout, blocks []uint32, n, workers int, seed int64) error {
	fmt.Printf("🧪 Generating %d sections (%d block ids)\n", n, len(blocks))

	payloads := make([][]byte, n)
	var total int
	start := time.Now()
	for i := range payloads {
		sec, err := util.NoiseSection(l, seed+int64(i), blocks)
		if err != nil {
			return err
		}
		data, err := section.Marshal(sec)
		if err != nil {
			return err
		}
		payloads[i] = data
		total += len(data)
	}
	encodeTime := time.Since(start)

	start = time.Now()
	res, err := section.DecodeBatch(context.Background(), payloads, section.BatchOptions{
		Layout:  l,
		Workers: workers,
	})
	if err != nil {
		return err
	}
	decodeTime := time.Since(start)

	fmt.Printf("Encoded: %d sections, %d bytes (avg %d B) in %s\n", n, total, total/max(n, 1), encodeTime)
	fmt.Printf("Decoded: %d sections, %d discarded in %s (%.0f sections/s)\n",
		res.Decoded(), len(res.Discarded), decodeTime, float64(n)/decodeTime.Seconds())

	kinds := make(map[string]int)
	for _, sec := range res.Sections {
		if sec != nil {
			kinds[fmt.Sprintf("%s/%d", sec.Blocks.Kind(), sec.Blocks.Bits())]++
		}
	}
	keys := make([]string, 0, len(kinds))
	for k := range kinds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println("\nBlock palettes:")
	for _, k := range keys {
		fmt.Printf("  %s: %d\n", k, kinds[k])
	}
	return nil
}

// inspect печатает содержимое секции из файла
func inspect(defsPath, file string) error {
	if file == "" {
		return fmt.Errorf("-file is required")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	l := section.DefaultLayout
	var reg *registry.Registry
	if defsPath != "" {
		if reg, err = loadRegistry(defsPath); err != nil {
			return err
		}
		l = section.ForRegistry(reg, 6)
	}

	sec, err := section.Unmarshal(l, data)
	if err != nil {
		return err
	}

	fmt.Printf("📦 %s: %d bytes, block count %d\n", file, len(data), sec.BlockCount)
	fmt.Printf("Blocks: %s, %d bits, palette %v\n", sec.Blocks.Kind(), sec.Blocks.Bits(), sec.Blocks.Palette())
	fmt.Printf("Biomes: %s, %d bits, palette %v\n", sec.Biomes.Kind(), sec.Biomes.Bits(), sec.Biomes.Palette())

	if reg == nil {
		return nil
	}
	seen := make(map[uint32]bool)
	for _, v := range sec.Blocks.Values() {
		if seen[v] {
			continue
		}
		seen[v] = true
		if st, ok := reg.ResolveFull(registry.GlobalID(v)); ok {
			fmt.Printf("  %d = %s\n", v, st)
		} else {
			fmt.Printf("  %d = <unregistered>\n", v)
		}
	}
	return nil
}

func loadRegistry(path string) (*registry.Registry, error) {
	defs, err := registry.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return defs.Build()
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
