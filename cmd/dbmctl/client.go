package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dulus-bm/server/internal/agent/model"
)

func defaultServerURL() string {
	if u := os.Getenv("DBM_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

type client struct {
	http *resty.Client
}

func newClient(baseURL, userHeader, userID string, timeout time.Duration) *client {
	return &client{http: resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader(userHeader, userID)}
}

type commandResult struct {
	Reply     string         `json:"reply"`
	Actions   []model.Action `json:"actions"`
	CostUSD   float64        `json:"costUsd"`
	Failed    bool           `json:"failed"`
	Retryable bool           `json:"retryable"`
}

// sendCommand posts one instruction. A failed command is not a transport
// error: the server's conversational reply is returned with Failed set.
func (c *client) sendCommand(instruction string) (*commandResult, error) {
	var out commandResult
	resp, err := c.http.R().
		SetBody(map[string]string{"instruction": instruction}).
		SetResult(&out).
		SetError(&out).
		Post("/v1/commands")
	if err != nil {
		return nil, err
	}
	if out.Reply == "" && resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("POST /v1/commands: %s", resp.String())
	}
	return &out, nil
}

// dailySummary fetches today's recap. An error body's reply is surfaced as the error.
func (c *client) dailySummary() (*model.DailySummary, error) {
	var out model.DailySummary
	var failure struct {
		Reply string `json:"reply"`
	}
	resp, err := c.http.R().
		SetResult(&out).
		SetError(&failure).
		Get("/v1/summary")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		if failure.Reply != "" {
			return nil, errors.New(failure.Reply)
		}
		return nil, fmt.Errorf("GET /v1/summary: %s", resp.String())
	}
	return &out, nil
}

func (c *client) recentActivity(limit int) ([]model.Activity, error) {
	var out struct {
		Activity []model.Activity `json:"activity"`
	}
	req := c.http.R().SetResult(&out)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/v1/activity")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /v1/activity: %s", resp.String())
	}
	return out.Activity, nil
}

func (c *client) addStock(name, sku string, quantity float64, price *float64) (*model.StockItem, error) {
	body := map[string]any{"name": name, "sku": sku, "quantity": quantity}
	if price != nil {
		body["price"] = *price
	}
	var out model.StockItem
	resp, err := c.http.R().
		SetBody(body).
		SetResult(&out).
		Post("/v1/stock")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("POST /v1/stock: %s", resp.String())
	}
	return &out, nil
}
