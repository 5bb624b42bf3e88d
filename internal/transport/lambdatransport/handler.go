package lambdatransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/awmpietro/cloudmake/internal/app"
	"github.com/awmpietro/cloudmake/internal/transport/analyzedto"
)

type Handler struct {
	svc app.AnalyzeService
}

func NewHandler(svc app.AnalyzeService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Analyze(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	body, err := readBody(req)
	if err != nil {
		return jsonResp(http.StatusBadRequest, analyzedto.ErrorBody("invalid body", err)), nil
	}

	var in analyzedto.AnalyzeRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return jsonResp(http.StatusBadRequest, analyzedto.ErrorBody("invalid json", err)), nil
	}

	out, err := analyzedto.Run(h.svc, in)
	if err != nil {
		return jsonResp(http.StatusBadRequest, analyzedto.ErrorBody("analyze failed", err)), nil
	}
	return jsonResp(http.StatusOK, out), nil
}

func readBody(req events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

func jsonResp(status int, body any) events.APIGatewayV2HTTPResponse {
	b, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"content-type": "application/json"},
			Body:       `{"error":"failed to encode response"}`,
		}
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       string(b),
	}
}
