package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"quote-aggregator/src/client"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
	"quote-aggregator/src/network"
)

// Starts a quote search over HTTP (or follows an existing one) and prints the
// merged result once every provider has answered.
func main() {
	server := flag.String("server", "127.0.0.1:8000", "aggregator host:port")
	userID := flag.String("user", "", "user id")
	orgID := flag.String("org", "", "organization id (empty for an individual account)")
	requestID := flag.String("request", "", "follow an existing request instead of creating one")
	product := flag.String("product", "term_life", "product type")
	coverage := flag.Float64("coverage", 250000, "coverage amount")
	term := flag.Int("term", 240, "term in months")
	age := flag.Int("age", 0, "applicant age")
	logLevel := flag.String("log-level", "INFO", "log level")
	flag.Parse()

	cfg := &models.MConfig{Name: "subscriber", LogLevel: *logLevel, Network: models.MNetworkConfig{RequestTimeout: 10}}
	appLogger := logger.NewLogger(cfg, cfg.Name)
	defer appLogger.Sync()

	if *userID == "" {
		fmt.Println("Error: -user is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := *requestID
	if id == "" {
		filters := models.MQuoteFilters{ProductType: *product, CoverageAmount: *coverage, TermMonths: *term, ApplicantAge: *age}
		created, err := createRequest(ctx, cfg, *server, *userID, *orgID, filters, appLogger)
		if err != nil {
			appLogger.Critical("Failed to create request: %v", err)
		}
		id = created
	}
	appLogger.Info("Following request %s", id)

	sub := client.NewSubscriber("ws://"+*server+"/ws", *userID, *orgID, 2*time.Second, appLogger.Named("ws"))
	if err := sub.Watch(id); err != nil {
		appLogger.Critical("Failed to watch request: %v", err)
	}
	if err := sub.Connect(ctx); err != nil {
		appLogger.Critical("Failed to connect: %v", err)
	}
	defer sub.Close()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case result := <-sub.Results():
		printResult(result)
	case <-quit:
		if p, ok := sub.Progress(); ok {
			appLogger.Info("Interrupted at %d/%d providers", p.ProvidersCompleted, p.ProvidersTotal)
		}
	}
}

// -----------------------------------------------------------------------------

func createRequest(ctx context.Context, cfg *models.MConfig, server, userID, orgID string, filters models.MQuoteFilters, log *logger.Logger) (string, error) {
	nm := network.NewAsyncNetworkManager(cfg, log.Named("http"))

	body := map[string]interface{}{
		"userId":         userID,
		"organizationId": orgID,
		"filters":        filters,
	}
	resp, err := nm.PostJSON(ctx, "http://"+server+"/api/quotes", body, nil)
	if err != nil {
		return "", err
	}

	var created struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(resp, &created); err != nil {
		return "", err
	}
	if created.RequestID == "" {
		return "", fmt.Errorf("server returned no request id")
	}
	return created.RequestID, nil
}

// -----------------------------------------------------------------------------

func printResult(r client.SearchResult) {
	quotes := append([]models.MQuote(nil), r.Quotes...)
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Premium < quotes[j].Premium })

	fmt.Printf("Request %s: %d quotes from %d/%d providers (%d failed)\n",
		r.RequestID, r.TotalQuotes, r.Progress.ProvidersSuccessful, r.Progress.ProvidersTotal, r.Progress.ProvidersFailed)
	fmt.Println(strings.Repeat("-", 64))
	for _, q := range quotes {
		fmt.Printf("%-20s %-20s %10.2f %12.0f %4dm\n", q.ProviderID, q.ID, q.Premium, q.CoverageAmount, q.TermMonths)
	}
}
