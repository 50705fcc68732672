//go:build lambda

package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"armory-planner/internal/service"
)

var jsonHeader = map[string]string{
	"Content-Type": "application/json",
}

// lambdaHandler serves a Function URL. Settings come from ARMORY_* variables.
type lambdaHandler struct {
	svc *service.Service
	log *zap.Logger
}

func (h *lambdaHandler) handle(ctx context.Context, event events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error) {
	method := event.RequestContext.HTTP.Method
	path := strings.TrimSuffix(event.RawPath, "/")

	switch {
	case method == http.MethodGet && strings.HasPrefix(path, "/levels/"):
		rungs, err := h.svc.Levels(strings.TrimPrefix(path, "/levels/"))
		if err != nil {
			return errResp(service.StatusCode(err), err.Error())
		}
		return okResp(rungs)
	case method != http.MethodPost:
		return errResp(http.StatusMethodNotAllowed, "method not allowed")
	}

	body := event.Body
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return errResp(http.StatusBadRequest, "invalid base64 body")
		}
		body = string(decoded)
	}

	switch path {
	case "", "/allocate":
		resp, err := h.svc.Allocate(ctx, []byte(body))
		if err != nil {
			return errResp(service.StatusCode(err), err.Error())
		}
		h.log.Info("allocated",
			zap.String("stop", string(resp.Result.Stop)),
			zap.Int("steps", len(resp.Result.Steps)),
		)
		return okResp(resp)
	case "/plan":
		resp, err := h.svc.Plan(ctx, []byte(body))
		if err != nil {
			return errResp(service.StatusCode(err), err.Error())
		}
		return okResp(resp)
	default:
		return errResp(http.StatusNotFound, "unknown route "+path)
	}
}

func okResp(v any) (events.LambdaFunctionURLResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return errResp(http.StatusInternalServerError, err.Error())
	}
	return events.LambdaFunctionURLResponse{StatusCode: http.StatusOK, Headers: jsonHeader, Body: string(body)}, nil
}

func errResp(code int, msg string) (events.LambdaFunctionURLResponse, error) {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return events.LambdaFunctionURLResponse{StatusCode: code, Headers: jsonHeader, Body: string(body)}, nil
}

func main() {
	a, err := newApp("", nil, false)
	if err != nil {
		panic(err)
	}
	defer a.Close()

	h := &lambdaHandler{svc: a.svc, log: a.log}
	lambda.Start(h.handle)
}
