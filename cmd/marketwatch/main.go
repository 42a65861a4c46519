package main

import (
	"context"
	"os"

	"github.com/Illiquidly/marketwatch/internal/chainwatcher"
	"github.com/Illiquidly/marketwatch/internal/config"
	"github.com/Illiquidly/marketwatch/internal/gateway"
	"github.com/Illiquidly/marketwatch/internal/handlers/cli"
	"github.com/Illiquidly/marketwatch/internal/infra/chain/lcd"
	"github.com/Illiquidly/marketwatch/internal/infra/storage/postgres"
	"github.com/Illiquidly/marketwatch/internal/infra/storage/redis"
	"github.com/Illiquidly/marketwatch/internal/listener"
	"github.com/Illiquidly/marketwatch/internal/loans"
	"github.com/Illiquidly/marketwatch/internal/nftmeta"
	"github.com/Illiquidly/marketwatch/internal/notify"
	"github.com/Illiquidly/marketwatch/internal/pipeline"
	"github.com/Illiquidly/marketwatch/internal/pkg/logger"
	"github.com/Illiquidly/marketwatch/internal/pkg/telemetry"
	transporthttp "github.com/Illiquidly/marketwatch/internal/pkg/transport/http"
	"github.com/Illiquidly/marketwatch/internal/raffles"
	"github.com/Illiquidly/marketwatch/internal/trades"
)

func main() {
	ctx := context.Background()

	if err := logger.Init(); err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(ctx); err != nil {
		logger.Error(ctx, "marketwatch exited with an error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	networks, err := config.LoadNetworks(cfg.NetworksFile)
	if err != nil {
		return err
	}

	if cfg.TelemetryEnabled {
		shutdown, err := telemetry.Init(ctx, "marketwatch")
		if err != nil {
			return err
		}
		defer shutdown(ctx)
	}

	redisClient, err := redis.NewClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	postgresClient, err := postgres.NewClient(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer postgresClient.Close()

	if err := postgresClient.RunMigrations(ctx); err != nil {
		return err
	}

	var (
		pool = postgresClient.Pool()
		bus  = redisClient.TriggerBus(cfg.TriggerChannel)
	)

	// The gateway already retries and paces requests, so the underlying HTTP
	// client must not retry on its own.
	upstream := lcd.NewClient(networks.LCDEndpoints(),
		transporthttp.NewClient(transporthttp.WithRetryMax(0)))
	gw := gateway.New(upstream,
		gateway.WithRequestsPerSecond(cfg.GatewayRequestsPerSecond),
		gateway.WithMaxInFlight(cfg.GatewayMaxInFlight))

	var (
		dispatcher = notify.New(postgres.NewNotificationStore(pool))
		metadata   = nftmeta.New(postgres.NewCollectionStore(pool), gw)
	)

	domains := []listener.Domain{
		trades.New(networks.DomainContracts(trades.DomainName),
			postgres.NewTradeStore(pool), gw, metadata, dispatcher),
		loans.New(networks.DomainContracts(loans.DomainName),
			postgres.NewLoanStore(pool), gw, metadata, dispatcher),
		raffles.New(networks.DomainContracts(raffles.DomainName),
			postgres.NewRaffleStore(pool), gw, metadata, dispatcher),
	}

	engine := listener.New(domains, networks.Names(), bus, gw, redisClient,
		listener.WithPageLimit(cfg.PageLimit),
		listener.WithSettleDelay(cfg.SettleDelay),
		listener.WithRunDeadline(cfg.RunDeadline))

	p := pipeline.New(engine,
		chainwatcher.NewWatcher(watchTargets(networks, domains), bus),
		chainwatcher.NewTicker(tickerPulses(networks, domains), bus,
			chainwatcher.WithTickInterval(cfg.TickInterval)))

	return cli.Run(ctx, p, bus, redisClient)
}

// watchTargets builds one websocket subscription per (network, domain
// contract) pair, skipping networks without an RPC websocket endpoint.
func watchTargets(networks config.Networks, domains []listener.Domain) []chainwatcher.Target {
	var targets []chainwatcher.Target
	for name, network := range networks.Networks {
		if network.RPCWebsocket == "" {
			continue
		}
		for _, domain := range domains {
			contract, ok := network.Contracts[domain.Name()]
			if !ok {
				continue
			}
			targets = append(targets, chainwatcher.Target{
				Network:  name,
				Endpoint: network.RPCWebsocket,
				Contract: contract,
				Kind:     domain.TriggerKind(),
			})
		}
	}
	return targets
}

// tickerPulses builds one periodic pulse per (network, domain) pair where the
// domain has a deployed contract.
func tickerPulses(networks config.Networks, domains []listener.Domain) []chainwatcher.Pulse {
	var pulses []chainwatcher.Pulse
	for name, network := range networks.Networks {
		for _, domain := range domains {
			if _, ok := network.Contracts[domain.Name()]; !ok {
				continue
			}
			pulses = append(pulses, chainwatcher.Pulse{
				Kind:    domain.TriggerKind(),
				Network: name,
			})
		}
	}
	return pulses
}
