package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// resolveResponse mirrors the resolver API response model.
type resolveResponse struct {
	Success      bool   `json:"success"`
	URL          string `json:"url"`
	ResolvedURL  string `json:"resolved_url"`
	Strategy     string `json:"strategy"`
	LastKnownURL string `json:"last_known_url"`
	Reason       string `json:"reason"`
	Error        *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// batchResponse mirrors the resolver batch API response.
type batchResponse struct {
	Total    int               `json:"total"`
	Resolved int               `json:"resolved"`
	Results  []resolveResponse `json:"results"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	apiURL := os.Getenv("UNWRAP_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	// Optional: the API only checks keys when UNWRAP_AUTH_ENABLED is set.
	apiKey := os.Getenv("UNWRAP_API_KEY")

	s := server.NewMCPServer(
		"unwrap",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	resolveURLTool := mcp.NewTool("resolve_url",
		mcp.WithDescription("Resolve a news aggregator wrapper link (for example a news.google.com/rss/articles/... URL) to the publisher's article URL. Falls back to a headless browser when the wrapper redirects with JavaScript."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The wrapper URL to resolve"),
		),
	)
	s.AddTool(resolveURLTool, handleResolveURL(apiURL, apiKey))

	resolveURLsTool := mcp.NewTool("resolve_urls",
		mcp.WithDescription("Resolve up to 20 aggregator wrapper links in one call. Each link is resolved independently."),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("List of wrapper URLs to resolve"),
		),
	)
	s.AddTool(resolveURLsTool, handleResolveURLs(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiDo sends a request to the resolver API and returns the response body.
// Non-2xx statuses are not errors: the body carries the structured outcome.
func apiDo(ctx context.Context, client *http.Client, method, endpoint, apiKey string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func handleResolveURL(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 130 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		wrapperURL, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		endpoint := apiURL + "/api/v1/resolve?url=" + url.QueryEscape(wrapperURL)
		respBody, err := apiDo(ctx, client, http.MethodGet, endpoint, apiKey, nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("resolve request failed: %v", err)), nil
		}

		var resp resolveResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		if !resp.Success {
			return mcp.NewToolResultError(describeFailure(resp)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s\n\n(resolved via %s)", resp.ResolvedURL, resp.Strategy)), nil
	}
}

func handleResolveURLs(apiURL, apiKey string) server.ToolHandlerFunc {
	// Worst case is a full batch queued behind the browser session limit.
	client := &http.Client{Timeout: 600 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls, err := request.RequireStringSlice("urls")
		if err != nil {
			return mcp.NewToolResultError("urls is required and must be an array of strings"), nil
		}

		respBody, err := apiDo(ctx, client, http.MethodPost, apiURL+"/api/v1/resolve/batch", apiKey, map[string]any{"urls": urls})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("batch request failed: %v", err)), nil
		}

		var resp batchResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse batch response: %v", err)), nil
		}
		if resp.Error != nil {
			return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", resp.Error.Code, resp.Error.Message)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Resolved %d/%d\n\n", resp.Resolved, resp.Total)
		for i, r := range resp.Results {
			if r.Success {
				fmt.Fprintf(&sb, "[%d] %s\n    -> %s\n", i+1, r.URL, r.ResolvedURL)
			} else {
				fmt.Fprintf(&sb, "[%d] %s\n    FAILED: %s\n", i+1, r.URL, describeFailure(r))
			}
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func describeFailure(r resolveResponse) string {
	msg := "resolve failed"
	if r.Error != nil {
		msg = fmt.Sprintf("[%s] %s", r.Error.Code, r.Error.Message)
	}
	if r.LastKnownURL != "" {
		msg += " (last known url: " + r.LastKnownURL + ")"
	}
	return msg
}
