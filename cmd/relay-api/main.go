// README: Entry point; loads config, wires stores and services, starts HTTP server, queue consumer, and reminder sweep.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"relay/internal/config"
	httptransport "relay/internal/http"
	"relay/internal/infra"
	"relay/internal/modules/checkout"
	"relay/internal/modules/commerce"
	"relay/internal/modules/correlate"
	"relay/internal/modules/notify"
	"relay/internal/modules/order"
	"relay/internal/modules/reminder"
	"relay/internal/modules/router"
	"relay/internal/rabbit"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("postgres init", zap.Error(err))
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	mongoDB, err := infra.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		logger.Fatal("mongo init", zap.Error(err))
	}
	defer func() {
		_ = mongoDB.Client().Disconnect(context.Background())
	}()

	rabbitConn, rabbitCh, err := infra.NewRabbit(cfg.Rabbit.URL)
	if err != nil {
		logger.Fatal("rabbit init", zap.Error(err))
	}
	defer rabbitConn.Close()

	orderStore := order.NewStore(dbPool)
	checkoutStore := checkout.NewStore(mongoDB)
	correlateStore := correlate.NewStore(redisClient)

	waClient := notify.NewClient(cfg.WhatsApp.APIURL, cfg.WhatsApp.Token,
		time.Duration(cfg.WhatsApp.TimeoutSeconds)*time.Second)
	dispatcher := notify.NewDispatcher(waClient, cfg.WhatsApp.LanguageCode, logger)

	annotator := commerce.NewClient(cfg.Shopify.APIURL, cfg.Shopify.Token,
		time.Duration(cfg.Shopify.TimeoutSeconds)*time.Second)

	routerSvc := router.NewService(orderStore, checkoutStore, correlateStore, dispatcher, annotator,
		router.Config{
			DefaultCountryCode: cfg.WhatsApp.DefaultCountryCode,
			StoreName:          cfg.Shopify.StoreName,
			CourierName:        cfg.Delivery.CourierName,
			DeliveryWindow:     cfg.Delivery.Window,
			FeedbackURL:        cfg.Delivery.FeedbackURL,
		}, logger)

	if err := rabbit.SetupConsumers(ctx, rabbitCh, routerSvc, logger); err != nil {
		logger.Fatal("rabbit consumers", zap.Error(err))
	}

	reminderSvc := reminder.NewService(orderStore, checkoutStore, routerSvc, dispatcher,
		reminder.Config{
			Tick:              time.Duration(cfg.Reminder.TickSeconds) * time.Second,
			OrderThreshold:    cfg.Reminder.OrderThreshold,
			CheckoutThreshold: cfg.Reminder.CheckoutThreshold,
			RecordTimeout:     cfg.Reminder.RecordTimeout,
		}, logger)
	go reminderSvc.Run(ctx)

	handler := httptransport.NewRouter(routerSvc, cfg.HTTP.WebhookSecret, logger)
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
}
