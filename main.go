// Command legisla asks the legislative assistant one question from the
// terminal. Nothing is stored.
//
//	go run . -type laws "Quais leis tratam do IPTU em Cabedelo?"
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/RichardoC/legisla/internal/config"
	"github.com/RichardoC/legisla/internal/llm"
	"github.com/RichardoC/legisla/internal/models"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	queryType := flag.String("type", string(models.QueryInternet), "query type: internet or laws")
	withTitle := flag.Bool("title", false, "also print the title a new conversation would get")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	question := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if question == "" {
		fmt.Fprintln(os.Stderr, "usage: legisla [-type internet|laws] [-title] <question>")
		os.Exit(2)
	}
	qt := models.QueryType(*queryType)
	if !qt.Valid() {
		fmt.Fprintf(os.Stderr, "unknown query type %q\n", *queryType)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	laws := llm.NewLawsClient(cfg.Laws.URL, cfg.Laws.APIKey, cfg.Laws.Model, cfg.Laws.Timeout)
	svc, err := llm.New(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, laws, logger, nil)
	if err != nil {
		logger.Fatal("failed to initialize LLM service", zap.Error(err))
	}

	ctx := context.Background()
	if *withTitle {
		fmt.Printf("# %s\n\n", svc.GenerateTitle(ctx, question))
	}
	answer, err := svc.Route(ctx, question, qt)
	if err != nil {
		logger.Fatal("failed to generate answer", zap.Error(err))
	}
	fmt.Println(answer)
}
