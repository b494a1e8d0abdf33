/*
Simgatewayd runs a simulator-style message gateway: it accepts UDP and
WebSocket peers, maintains one circuit per peer, and dispatches decoded
messages to registered handlers.

Usage:

	simgatewayd [config-path]

If config-path is omitted, built-in defaults are used.
*/
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openmetaverse-go/simwire/circuit"
	"github.com/openmetaverse-go/simwire/simwire"
	"github.com/openmetaverse-go/simwire/transport"
)

const pollInterval = 20 * time.Millisecond

type runCfg struct {
	configPath string

	log    *logrus.Logger
	conf   Config
	udp    *transport.UDP
	ws     *transport.WS
	sys    *simwire.System
}

var rootCmd = &cobra.Command{
	Use:   "simgatewayd [config-path]",
	Short: "Simulator-style message gateway over UDP and WebSocket",
	Run: func(_ *cobra.Command, args []string) {
		r := &runCfg{}
		if len(args) > 0 {
			r.configPath = args[0]
		}

		r.startLogger().
			readConfig().
			buildSystem().
			runLoop().
			waitOSSignals().
			shutdown()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func (r *runCfg) startLogger() *runCfg {
	r.log = logrus.New()
	r.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return r
}

func (r *runCfg) readConfig() *runCfg {
	conf, err := loadConfig(r.configPath)
	if err != nil {
		r.log.Fatal(err)
	}
	r.conf = conf

	level, err := logrus.ParseLevel(conf.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	r.log.SetLevel(level)

	return r
}

func (r *runCfg) buildSystem() *runCfg {
	udp, err := transport.ListenUDP(r.conf.Listen.UDPAddr)
	if err != nil {
		r.log.Fatal(err)
	}
	r.udp = udp

	var gateway circuit.Transport = udp
	if r.conf.Listen.WSAddr != "" {
		ws := transport.ListenWS(r.conf.Listen.WSAddr, r.conf.Listen.WSPath)
		r.ws = ws
		gateway = transport.NewMulti(func(host circuit.Host) circuit.Transport {
			if ws.HasConn(host) {
				return ws
			}
			return nil
		}, udp, ws)
	}

	log := logrus.NewEntry(r.log)
	table := circuit.NewTable(gateway,
		circuit.WithMaxCircuits(r.conf.Circuit.MaxCircuits),
		circuit.WithRetryLimit(r.conf.Circuit.RetryLimit),
		circuit.WithRetryTimeout(time.Duration(r.conf.Circuit.RetryTimeoutMS)*time.Millisecond),
		circuit.WithLivenessTimeout(time.Duration(r.conf.Circuit.LivenessTimeoutSec)*time.Second),
		circuit.WithLogger(log),
	)

	r.sys = simwire.NewSystem(table, gateway, simwire.WithSystemLogger(log))

	r.log.WithField("udp_addr", r.conf.Listen.UDPAddr).Info("simgatewayd: listening")
	return r
}

func (r *runCfg) runLoop() *runCfg {
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for range ticker.C {
			r.sys.Poll()
		}
	}()
	return r
}

func (r *runCfg) waitOSSignals() *runCfg {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	return r
}

func (r *runCfg) shutdown() *runCfg {
	r.log.Info("simgatewayd: shutting down")
	if r.udp != nil {
		r.udp.Close()
	}
	if r.ws != nil {
		r.ws.Close()
	}
	return r
}

func main() {
	if err := Execute(); err != nil {
		logrus.Fatal(err)
	}
}
