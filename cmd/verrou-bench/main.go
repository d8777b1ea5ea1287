package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-verrou/v1/config"
	"github.com/mirkobrombin/go-verrou/v1/lock"
	"github.com/mirkobrombin/go-verrou/v1/registry"
)

var (
	concurrency = flag.Int("c", 50, "Concurrency")
	requests    = flag.Int("n", 10000, "Acquire/release cycles")
	keys        = flag.Int("k", 0, "Distinct keys, 0 for one key per cycle")
	target      = flag.String("target", "all", "Comma separated store names from the config, or all")
	configPath  = flag.String("config", "", "Config file; defaults to a single memory store")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	reg, err := cfg.Registry(lock.WithRetry(lock.RetryConfig{Delay: time.Millisecond}))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = reg.DisconnectAll(context.Background()) }()

	targets := strings.Split(*target, ",")
	if *target == "all" {
		targets = reg.Names()
	}

	fmt.Printf("| %-15s | %-10s | %-12s | %-12s |\n", "Store", "Ops/sec", "Avg Latency", "P99 Latency")
	fmt.Println("|:---|:---|:---|:---|")

	for _, t := range targets {
		runBenchmark(reg, strings.TrimSpace(t))
	}
}

func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		return config.LoadFile(*configPath)
	}
	return config.Load(viper.New())
}

func keyFor(i int) string {
	if *keys <= 0 {
		return fmt.Sprintf("bench:%d", i)
	}
	return fmt.Sprintf("bench:%d", i%*keys)
}

func runBenchmark(reg *registry.Registry, name string) {
	f, err := reg.Use(name)
	if err != nil {
		log.Printf("Unknown target %s: %v", name, err)
		return
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	var ops int64
	totalReqs := *requests
	latencies := make([]int64, totalReqs)

	start := time.Now()
	chunk := totalReqs / *concurrency

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			offset := idx * chunk
			for j := 0; j < chunk; j++ {
				reqStart := time.Now()
				l := f.CreateLock(keyFor(offset+j), lock.WithTTL(time.Minute))
				ran, err := l.Run(ctx, func(context.Context) error { return nil })
				if err == nil && ran {
					atomic.AddInt64(&ops, 1)
					latencies[offset+j] = time.Since(reqStart).Nanoseconds()
				}
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	if ops == 0 {
		fmt.Printf("| %-15s | %-10s | %-12s | %-12s |\n", name, "ERROR", "-", "-")
		return
	}

	throughput := float64(ops) / elapsed.Seconds()
	avgLat := float64(elapsed.Nanoseconds()) / float64(ops)

	p99 := "-"
	validLats := make([]int64, 0, ops)
	for _, l := range latencies {
		if l > 0 {
			validLats = append(validLats, l)
		}
	}
	if len(validLats) > 0 {
		sort.Slice(validLats, func(i, j int) bool { return validLats[i] < validLats[j] })
		p99Idx := int(float64(len(validLats)) * 0.99)
		if p99Idx >= len(validLats) {
			p99Idx = len(validLats) - 1
		}
		p99 = fmt.Sprintf("%d", validLats[p99Idx])
	}

	fmt.Printf("| %-15s | %-10.0f | %-12.0f | %-12s |\n", name, throughput, avgLat, p99)
}
