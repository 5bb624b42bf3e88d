package analyzedto

import (
	"errors"

	"github.com/awmpietro/cloudmake/internal/app"
	"github.com/awmpietro/cloudmake/internal/cloudmake"
)

type AnalyzeRequest struct {
	Rules string   `json:"rules"`
	Paths []string `json:"paths,omitempty"`
	DOT   bool     `json:"dot,omitempty"`
}

type AnalyzeResponse struct {
	Report  *app.Report     `json:"report"`
	Matches []app.PathMatch `json:"matches,omitempty"`
}

// Run answers req with svc. The returned body is either an AnalyzeResponse
// or an error body.
func Run(svc app.AnalyzeService, req AnalyzeRequest) (any, error) {
	rep, err := svc.Analyze(req.Rules)
	if err != nil {
		return nil, err
	}
	r := *rep
	if !req.DOT {
		r.DOT = ""
	}
	resp := AnalyzeResponse{Report: &r}
	if len(req.Paths) > 0 {
		resp.Matches, err = svc.Match(req.Rules, req.Paths)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func ErrorBody(msg string, err error) map[string]any {
	body := map[string]any{
		"error":   msg,
		"details": err.Error(),
	}
	var pe *cloudmake.ParseError
	if errors.As(err, &pe) {
		body["line"] = pe.Line
	}
	return body
}
