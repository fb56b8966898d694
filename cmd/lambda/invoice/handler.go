package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/example/pos-checkout/internal/domain/order"
	"github.com/example/pos-checkout/internal/invoice"
)

type invoiceResponse struct {
	Invoice   *invoice.View `json:"invoice"`
	ShareLink string        `json:"share_link"`
}

// invoiceHandler serves shared invoice links behind API Gateway.
type invoiceHandler struct {
	invoices *invoice.Service
	logger   zerolog.Logger
}

func (h *invoiceHandler) handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	orderID := req.QueryStringParameters["orderId"]
	if orderID == "" {
		return respond(http.StatusBadRequest, map[string]string{"error": "orderId is required"}), nil
	}

	view, err := h.invoices.Get(ctx, orderID)
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		return respond(http.StatusNotFound, map[string]string{"error": err.Error()}), nil
	case err != nil:
		h.logger.Error().Err(err).Str("order_id", orderID).Msg("failed to load invoice")
		return respond(http.StatusInternalServerError, map[string]string{"error": "internal error"}), nil
	}

	return respond(http.StatusOK, invoiceResponse{Invoice: view, ShareLink: h.invoices.ShareLink(orderID)}), nil
}

func respond(status int, body any) events.APIGatewayProxyResponse {
	data, err := json.Marshal(body)
	if err != nil {
		status, data = http.StatusInternalServerError, []byte(`{"error":"internal error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Cache-Control": "private, max-age=60",
		},
		Body: string(data),
	}
}
