package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shaunagostinho/pytes-bridge/internal/config"
	"github.com/shaunagostinho/pytes-bridge/internal/logger"
	"github.com/shaunagostinho/pytes-bridge/internal/poller"
	"github.com/shaunagostinho/pytes-bridge/internal/protocol"
	"github.com/shaunagostinho/pytes-bridge/internal/publish"
	"github.com/shaunagostinho/pytes-bridge/internal/server"
	"github.com/shaunagostinho/pytes-bridge/internal/transport"
	"github.com/shaunagostinho/pytes-bridge/web"
)

func main() {
	configPath := flag.String("config", "/etc/pytes-bridge/config.yaml", "Path to config file (.yaml or .toml)")
	demo := flag.Bool("demo", false, "Poll a simulated rack instead of the serial port")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] pytes-bridge starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] config: %v", err)
	}
	if *demo {
		cfg.Serial.Type = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
		cfg.Server.Enabled = true
	}
	logConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	sum, err := protocol.ChecksumByName(cfg.Rack.Checksum)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	codec := protocol.NewCodec(sum)

	var tr transport.Transport
	switch cfg.Serial.Type {
	case "demo":
		tr = transport.NewDemo(codec, cfg.Rack.NumBatteries)
	default:
		tr, err = transport.NewSerial(transport.SerialConfig{
			PortPath: cfg.Serial.PortPath,
			BaudRate: cfg.Serial.BaudRate,
			DataBits: cfg.Serial.DataBits,
			Parity:   cfg.Serial.Parity,
			StopBits: cfg.Serial.StopBits,
		})
		if err != nil {
			log.Fatalf("[main] serial: %v", err)
		}
	}

	plan, err := publish.BuildPlan(cfg.Outputs, cfg.Rack.NumBatteries)
	if err != nil {
		log.Fatalf("[main] outputs: %v", err)
	}
	if plan.Wired() == 0 {
		log.Printf("[main] no output slots wired; cycles will only be logged")
	}

	var sinks []publish.Sink
	var closers []connectable

	if cfg.MQTT.Enabled {
		m := publish.NewMQTTSink(cfg.MQTT)
		sinks = append(sinks, m)
		closers = append(closers, m)
		go connectWithRetry(ctx, "mqtt", m, 10)
	}
	if cfg.Redis.Enabled {
		r := publish.NewRedisSink(cfg.Redis)
		r.Start(ctx)
		sinks = append(sinks, r)
		closers = append(closers, r)
		go connectWithRetry(ctx, "redis", r, 10)
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg, web.FS)
		sinks = append(sinks, srv)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, publish.LogSink{})
	}

	pub := publish.New(plan, publish.Options{TemperatureUnit: cfg.Outputs.TemperatureUnit}, sinks...)
	if plan.Wired() == 0 {
		pub.AddCycleSink(publish.LogSink{})
	}
	if cfg.History.Enabled {
		hist := logger.New(logger.Config{Path: cfg.History.Path, MaxRows: cfg.History.MaxRows})
		pub.AddCycleSink(hist)
		defer hist.Close()
	}

	sched, err := poller.New(poller.Config{
		Batteries:      cfg.Rack.NumBatteries,
		Interval:       cfg.Rack.UpdateInterval,
		RequestTimeout: cfg.Rack.RequestTimeout,
		CommandDelay:   cfg.Rack.CommandDelay,
		LinkDownAfter:  cfg.Rack.LinkDownAfter,
		DeriveSummary:  cfg.Rack.DeriveSummary,
		Wanted:         plan.Wanted(),
	}, tr, codec, pub)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	var wg sync.WaitGroup
	if srv != nil {
		srv.Attach(sched)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.Printf("[main] server exited: %v", err)
				cancel()
			}
		}()
	}

	if err := sched.Run(ctx); err != nil {
		log.Printf("[main] poller exited: %v", err)
	}
	wg.Wait()

	for _, c := range closers {
		c.Close()
	}
	log.Println("[main] stopped")
}

func logConfig(cfg *config.Config) {
	src := cfg.Path()
	if src == "" {
		src = "defaults"
	}
	log.Printf("[main] config: %s", src)
	if cfg.Serial.Type == "demo" {
		log.Printf("[main] transport: demo rack")
	} else {
		log.Printf("[main] transport: %s @ %d baud", cfg.Serial.PortPath, cfg.Serial.BaudRate)
	}
	log.Printf("[main] rack: %d batteries, %.0f Ah, interval %v, timeout %v, checksum %s",
		cfg.Rack.NumBatteries, cfg.Rack.CapacityAh, cfg.Rack.UpdateInterval,
		cfg.Rack.RequestTimeout, cfg.Rack.Checksum)
	log.Printf("[main] outputs: temperature in °%s, mqtt=%v redis=%v server=%v history=%v",
		cfg.Outputs.TemperatureUnit, cfg.MQTT.Enabled, cfg.Redis.Enabled, cfg.Server.Enabled, cfg.History.Enabled)
}

// connectable is satisfied by the MQTT and Redis sinks.
type connectable interface {
	Connect() error
	Close() error
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func connectWithRetry(ctx context.Context, name string, c connectable, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.Connect()
		if err == nil {
			log.Printf("[%s] connected (attempt %d)", name, attempt+1)
			return
		}
		attempt++
		if attempt <= maxAttempts {
			log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
				name, attempt, maxAttempts, err, delay)
		} else {
			log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
				name, attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
