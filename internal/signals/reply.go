package signals

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rustyeddy/swingtrader/internal/domain"
)

// Opinion is the parsed advisory answer.
type Opinion struct {
	Action     domain.Action
	Confidence float64
	Reasoning  string
	Parsed     bool
}

var passOpinion = Opinion{Action: domain.Pass}

// ParseReply extracts {action, confidence, reasoning} from free text. The
// first '{' to the last '}' is decoded; anything unusable is a PASS.
// Confidence given on a 0-100 scale is normalized to [0,1].
func ParseReply(content string) Opinion {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return passOpinion
	}

	var raw struct {
		Action     string          `json:"action"`
		Decision   string          `json:"decision"`
		Confidence json.RawMessage `json:"confidence"`
		Reasoning  string          `json:"reasoning"`
		Reason     string          `json:"reason"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return passOpinion
	}

	action := raw.Action
	if action == "" {
		action = raw.Decision
	}
	conf, ok := parseConfidence(raw.Confidence)
	if !ok {
		return passOpinion
	}
	reason := raw.Reasoning
	if reason == "" {
		reason = raw.Reason
	}

	return Opinion{
		Action:     domain.ParseAction(action),
		Confidence: conf,
		Reasoning:  strings.TrimSpace(reason),
		Parsed:     true,
	}
}

func parseConfidence(b json.RawMessage) (float64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	s = strings.TrimSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	if v > 1 {
		v /= 100
	}
	if v > 1 {
		return 0, false
	}
	return v, true
}
