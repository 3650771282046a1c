// xgateway is a crypto-exchange trading and market-data gateway: it
// maintains the public market-data and authenticated user-data upstream
// WebSocket connections, a REST client for orders, and a local
// WebSocket server for downstream algo-trading clients, multiplexing
// data out and routing orders in while tracking per-session positions
// durably.
//
// Architecture:
//
//	cmd/gateway/main.go        — entry point: config, logging, wiring, shutdown
//	internal/config            — CLI flags + JSON config file
//	internal/logging           — rotating file log sink
//	internal/wsconn            — framed WebSocket client/server
//	internal/restclient        — signed REST request builder
//	internal/sign              — digest-less signing primitive
//	internal/codec             — exchange wire ⇄ internal model
//	internal/position          — durable per-session position store
//	internal/market            — upstream market-data link
//	internal/account           — upstream user-data link
//	internal/session           — per-session_id trading state
//	internal/orderrouter       — order/cancel REST dispatch
//	internal/dispatcher        — central event loop
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"xgateway/internal/account"
	"xgateway/internal/config"
	"xgateway/internal/dispatcher"
	"xgateway/internal/logging"
	"xgateway/internal/market"
	"xgateway/internal/orderrouter"
	"xgateway/internal/position"
	"xgateway/internal/restclient"
	"xgateway/internal/session"
	"xgateway/internal/sign"
	"xgateway/internal/wsconn"
)

const (
	marketWSURL    = "wss://stream.binance.com:9443/stream"
	perpMarketURL  = "wss://fstream.binance.com/stream"
	spotAccountURL = "wss://stream.binance.com:9443/ws"
	perpAccountURL = "wss://fstream.binance.com/ws"
	spotRestBase   = "https://api.binance.com"
	perpRestBase   = "https://fapi.binance.com"

	spotListenKeyPath = "/api/v3/userDataStream"
	perpListenKeyPath = "/fapi/v1/listenKey"
	spotOrderPath     = "/api/v3/order"
	perpOrderPath     = "/fapi/v1/order"
	spotProductsPath  = "/api/v3/exchangeInfo"
	perpProductsPath  = "/fapi/v1/exchangeInfo"

	positionDBPath = "pos.db"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		slog.Error("failed to parse CLI/config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.New("gateway", logging.ParseLevel(cfg.Level))
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	signer, err := sign.LoadPEM(cfg.PEM)
	if err != nil {
		logger.Error("failed to load signing key", "error", err, "path", cfg.PEM)
		os.Exit(1)
	}

	restBase := spotRestBase
	wsMarketURL := marketWSURL
	wsAccountBase := spotAccountURL
	listenKeyPath := spotListenKeyPath
	orderPath := spotOrderPath
	productsPath := spotProductsPath
	if cfg.Margin {
		restBase = perpRestBase
		wsMarketURL = perpMarketURL
		wsAccountBase = perpAccountURL
		listenKeyPath = perpListenKeyPath
		orderPath = perpOrderPath
		productsPath = perpProductsPath
	}

	rest := restclient.New(restBase, cfg.APIKey, signer, 5000)

	var lkCodec account.ListenKeyCodec
	if cfg.Margin {
		lkCodec = &account.MarginOrPerpListenKeyCodec{Rest: rest, AcquirePath: listenKeyPath, KeepAlivePath: listenKeyPath}
	} else {
		lkCodec = &account.SpotListenKeyCodec{Rest: rest, AcquirePath: listenKeyPath, KeepAlivePath: listenKeyPath}
	}

	store, err := position.Open(positionDBPath, logger)
	if err != nil {
		logger.Error("failed to open position store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	sessions := session.New(store, logger)
	router := orderrouter.New(rest, orderPath, orderPath, logger)

	marketLink := market.New(wsMarketURL, logger)
	accountLink := account.New(wsAccountBase, lkCodec, !cfg.Margin, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := marketLink.Start(ctx); err != nil {
		logger.Error("failed to start market link", "error", err)
		os.Exit(1)
	}
	if err := accountLink.Start(ctx); err != nil {
		logger.Error("failed to start account link", "error", err)
		os.Exit(1)
	}

	acceptor, err := wsconn.Listen(cfg.Local)
	if err != nil {
		logger.Error("failed to bind local listener", "error", err, "addr", cfg.Local)
		os.Exit(1)
	}

	d := dispatcher.New(dispatcher.Config{
		Acceptor:     acceptor,
		Market:       marketLink,
		Account:      accountLink,
		Sessions:     sessions,
		Router:       router,
		Rest:         rest,
		ProductsPath: productsPath,
		Logger:       logger,
	})

	if err := d.RefreshProducts(ctx); err != nil {
		logger.Error("failed to load initial product map", "error", err)
		os.Exit(1)
	}

	logger.Info("gateway started", "local", cfg.Local, "margin", cfg.Margin)

	go d.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
}
