package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

type braintreeClient struct {
	merchantID string
	publicKey  string
	privateKey string
	// client *braintree.Braintree // Use official SDK in real world
}

func newBraintreeClient(merchantID, publicKey, privateKey string) *braintreeClient {
	return &braintreeClient{
		merchantID: strings.TrimSpace(merchantID),
		publicKey:  strings.TrimSpace(publicKey),
		privateKey: strings.TrimSpace(privateKey),
	}
}

func (c *braintreeClient) generateClientToken(ctx context.Context, customerID string) (string, error) {
	if c.merchantID == "" || c.publicKey == "" || c.privateKey == "" {
		return "", errors.New("invalid_braintree_config")
	}

	// In a real implementation, we would use the braintree-go SDK:
	// gateway := braintree.New(braintree.Production, c.merchantID, c.publicKey, c.privateKey)
	// token, err := gateway.ClientToken().Generate(ctx, &braintree.ClientTokenRequest{CustomerID: customerID})
	
	// For this refactor without dragging in new heavy dependencies right now:
	// Return a placeholder that frontend would mock.
	// TODO: Add github.com/braintree-go/braintree-go to go.mod
	
	return "sandbox_client_token_placeholder_" + time.Now().Format("20060102150405"), nil
}

func (c *braintreeClient) createTransaction(ctx context.Context, nonce string, amount int64) (string, error) {
	// TODO: Use official braintree-go SDK
	
	// Mock success for now
	if strings.Contains(nonce, "fail") {
		return "", errors.New("processor_declined")
	}
	
	// Return transaction ID
	return "txn_" + strconv.FormatInt(time.Now().UnixNano(), 36), nil
}
