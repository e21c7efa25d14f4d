// cipscand polls symbolic tags on Allen-Bradley ControlLogix PLCs over
// EtherNet/IP, republishing changes to MQTT, Redis/Valkey, and Kafka,
// and serving a read-only status API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yatesdr/cipscan/config"
	"github.com/yatesdr/cipscan/httpapi"
	"github.com/yatesdr/cipscan/logging"
	"github.com/yatesdr/cipscan/publish"
	"github.com/yatesdr/cipscan/scan"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configPath  = flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	httpAddr    = flag.String("http", "", "Address to serve the read-only status API on (empty disables it)")
	logDebug    = flag.String("log-debug", "", "Enable debug logging to debug.log. Use 'all' for every protocol, or a comma-separated protocol list (eip,cip,tagpath,scan,config,publish,httpapi)")
	mqttBroker  = flag.String("mqtt", "", "MQTT broker URL to publish tag changes to (empty disables it)")
	redisAddr   = flag.String("redis", "", "Redis/Valkey address to cache tag values in (empty disables it)")
	kafkaAddr   = flag.String("kafka", "", "Comma-separated Kafka broker list to stream tag changes to (empty disables it)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("cipscand %s\n", Version)
		os.Exit(0)
	}

	if *logDebug != "" {
		debugLogger, err := logging.NewDebugLogger("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to open debug log: %v\n", err)
		} else {
			filter := *logDebug
			if filter == "all" || filter == "true" || filter == "1" {
				filter = ""
			}
			debugLogger.SetFilter(filter)
			logging.SetGlobalDebugLogger(debugLogger)
			defer debugLogger.Close()
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	var sinks []interface{ Stop() error }
	var callbacks []scan.CallbackFunc

	if *mqttBroker != "" {
		mqttPub := publish.NewMQTTPublisher(publish.MQTTConfig{Broker: *mqttBroker, ClientID: "cipscand"})
		if err := mqttPub.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: mqtt start: %v\n", err)
		} else {
			callbacks = append(callbacks, mqttPub.Callback())
			sinks = append(sinks, stopperFunc(func() error { mqttPub.Stop(); return nil }))
		}
	}

	if *redisAddr != "" {
		redisPub := publish.NewRedisPublisher(publish.RedisConfig{Address: *redisAddr, PublishChanges: true})
		if err := redisPub.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: redis start: %v\n", err)
		} else {
			callbacks = append(callbacks, redisPub.Callback())
			sinks = append(sinks, stopperFunc(redisPub.Stop))
		}
	}

	if *kafkaAddr != "" {
		kafkaPub := publish.NewKafkaPublisher(publish.KafkaConfig{
			Brokers:          strings.Split(*kafkaAddr, ","),
			Topic:            "cipscan.tags",
			AutoCreateTopics: true,
		})
		if err := kafkaPub.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: kafka start: %v\n", err)
		} else {
			callbacks = append(callbacks, kafkaPub.Callback())
			sinks = append(sinks, stopperFunc(kafkaPub.Stop))
		}
	}

	registry := scan.NewRegistry(cfg.DefaultPeriod)
	for _, plcCfg := range cfg.PLCs {
		if !plcCfg.Enabled {
			continue
		}
		timeout := plcCfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		plc := registry.DefinePLC(plcCfg.Name, plcCfg.Address, plcCfg.Slot, timeout, cfg.TransferBufferLimitFor(plcCfg))
		for _, sel := range plcCfg.Tags {
			elements := sel.Elements
			if elements == 0 {
				elements = 1
			}
			tag, err := registry.AddTag(plc, cfg.PeriodFor(sel), sel.Symbolic, elements)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: add_tag %s/%s: %v\n", plcCfg.Name, sel.Symbolic, err)
				continue
			}
			for _, cb := range callbacks {
				registry.RegisterCallback(plc, tag, cb, plcCfg.Name)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spawned, err := registry.Restart(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error starting workers: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("cipscand: %d PLC worker(s) running\n", spawned)

	var api *httpapi.Server
	if *httpAddr != "" {
		api = httpapi.NewServer(*httpAddr, registry)
		if err := api.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: http api start: %v\n", err)
		} else {
			fmt.Printf("cipscand: status api listening on %s\n", *httpAddr)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("cipscand: shutting down")
	cancel()
	if api != nil {
		api.Stop()
	}
	for _, s := range sinks {
		s.Stop()
	}
}

type stopperFunc func() error

func (f stopperFunc) Stop() error { return f() }
