package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GriffinCanCode/tracepipe/internal/agent"
	"github.com/GriffinCanCode/tracepipe/internal/config"
	"github.com/GriffinCanCode/tracepipe/internal/module/apmgin"
	"github.com/GriffinCanCode/tracepipe/internal/module/apmgrpc"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	grpcAddr := flag.String("grpc-addr", "localhost:50051", "gRPC listen address")
	origins := flag.String("cors-origins", "*", "Comma-separated allowed CORS origins")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	a, err := agent.New(cfg, agent.WithGatherer(prometheus.DefaultGatherer))
	if err != nil {
		log.Fatalf("Failed to start agent: %v", err)
	}
	logger := a.Logger()

	lis, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		logger.Fatal("Failed to listen", zap.String("addr", *grpcAddr), zap.Error(err))
	}
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(apmgrpc.UnaryServerInterceptor(a)),
		grpc.StreamInterceptor(apmgrpc.StreamServerInterceptor(a)),
	)
	hs := health.NewServer()
	hs.SetServingStatus("inventory", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)

	conn, err := grpc.NewClient(*grpcAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(apmgrpc.UnaryClientInterceptor()),
	)
	if err != nil {
		logger.Fatal("Failed to create gRPC client", zap.Error(err))
	}
	inventory := healthpb.NewHealthClient(conn)

	router := gin.New()
	corsCfg := cors.DefaultConfig()
	if *origins == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = strings.Split(*origins, ",")
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, apmgin.TraceParentHeader, apmgin.TraceStateHeader)
	router.Use(gin.Recovery(), cors.New(corsCfg), apmgin.Middleware(a))
	router.GET("/orders/:id", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		resp, err := inventory.Check(ctx, &healthpb.HealthCheckRequest{Service: "inventory"})
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusBadGateway, gin.H{"error": status.Convert(err).Message()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "inventory": resp.GetStatus().String()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.Registry(), promhttp.HandlerOpts{})))

	srv := &http.Server{Addr: *addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("Listening", zap.String("addr", *addr), zap.String("grpc_addr", *grpcAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error("Server error", zap.Error(err))
	}

	_ = conn.Close()
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}
