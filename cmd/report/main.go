package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"time"

	"smc-trading-core/internal/decisions"

	"github.com/joho/godotenv"
)

// report queries a running core for an account performance report and
// prints it. Meant for a terminal next to the service; the same data is on
// GET /api/v1/performance.

func main() {
	godotenv.Load()

	base := flag.String("base", envOr("SMC_API_BASE", "http://localhost:8080"), "core API base URL")
	account := flag.String("account", "", "account id (required)")
	period := flag.String("period", "daily", "report period: daily or weekly")
	raw := flag.Bool("json", false, "print the raw JSON response")
	flag.Parse()

	if *account == "" {
		fmt.Fprintln(os.Stderr, "usage: report -account <id> [-period daily|weekly] [-base URL] [-json]")
		os.Exit(2)
	}

	endpoint := fmt.Sprintf("%s/api/v1/performance?account_id=%s&period=%s",
		*base, url.QueryEscape(*account), url.QueryEscape(*period))

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Get(endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var report decisions.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil || resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "bad response: status %d, decode error %v\n", resp.StatusCode, err)
		os.Exit(1)
	}

	if *raw {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
		return
	}
	printReport(*account, &report)
}

func printReport(account string, r *decisions.Report) {
	fmt.Printf("Performance: %s (%s)\n", account, r.Period)
	fmt.Printf("  window:          %s .. %s\n",
		r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	fmt.Printf("  setups found:    %d (traded %d, skipped %d)\n",
		r.SetupsFound, r.SetupsTraded, r.SetupsSkipped)
	fmt.Printf("  record:          %dW / %dL / %dBE  win rate %.1f%%\n",
		r.Wins, r.Losses, r.BreakEvens, r.WinRate)
	fmt.Printf("  profit factor:   %.2f\n", r.ProfitFactor)
	fmt.Printf("  avg R:           %.2f\n", r.AvgR)
	fmt.Printf("  net profit:      %.2f\n", r.NetProfit)
	fmt.Printf("  false negatives: %d\n", r.FalseNegatives)

	if len(r.SkipReasons) > 0 {
		fmt.Println("  skip reasons:")
		reasons := make([]string, 0, len(r.SkipReasons))
		for reason := range r.SkipReasons {
			reasons = append(reasons, reason)
		}
		sort.Slice(reasons, func(i, j int) bool {
			if r.SkipReasons[reasons[i]] != r.SkipReasons[reasons[j]] {
				return r.SkipReasons[reasons[i]] > r.SkipReasons[reasons[j]]
			}
			return reasons[i] < reasons[j]
		})
		for _, reason := range reasons {
			fmt.Printf("    %-32s %d\n", reason, r.SkipReasons[reason])
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
