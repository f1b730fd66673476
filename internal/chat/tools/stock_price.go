package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

const ToolGetStockPrice = "get_stock_price"

type StockPriceInput struct {
	TickerSymbol string `json:"ticker_symbol"`
}

type StockPriceOutput struct {
	Quote string `json:"quote"`
}

// Mock quote table standing in for a market-data integration.
var mockQuotes = map[string]string{
	"GOOG": "The current price for GOOG is $142.50. (Source: Mock API)",
	"MSFT": "The current price for MSFT is $405.10. (Source: Mock API)",
}

func createStockPriceTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolGetStockPrice,
			Desc: "REQUIRED: Call this tool whenever the user asks for the price, value, or quote of a specific stock ticker (e.g., GOOG, AAPL).",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"ticker_symbol": {
					Type:     schema.String,
					Desc:     "The stock ticker symbol, e.g. GOOG or MSFT.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *StockPriceInput) (*StockPriceOutput, error) {
			symbol := strings.ToUpper(strings.TrimSpace(in.TickerSymbol))
			if symbol == "" {
				return nil, fmt.Errorf("ticker_symbol is required")
			}

			quote, ok := mockQuotes[symbol]
			if !ok {
				quote = fmt.Sprintf("Stock price for %s not found.", symbol)
			}
			return &StockPriceOutput{Quote: quote}, nil
		},
	)
}
