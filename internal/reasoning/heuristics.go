package reasoning

import (
	"regexp"
	"strconv"
	"strings"
)

// defaultScorePlan is the baseline confidence heuristic: has-enumeration,
// has-length>100 and has-ordering-tokens each contribute a third.
func defaultScorePlan(plan string) float64 {
	if plan == "" {
		return 0
	}
	var score float64
	if enumerationPattern.MatchString(plan) {
		score += 1.0 / 3
	}
	if len(plan) > 100 {
		score += 1.0 / 3
	}
	lower := strings.ToLower(plan)
	for _, token := range orderingTokens {
		if strings.Contains(lower, token) {
			score += 1.0 / 3
			break
		}
	}
	return score
}

var enumerationPattern = regexp.MustCompile(`(?m)^\s*\d+[.)]\s`)

var orderingTokens = []string{"first", "then", "next", "finally", "after", "before"}

var ethAddressPattern = regexp.MustCompile(`0x[a-fA-F0-9]{6,}`)

var knownTokenSymbols = map[string]bool{
	"ETH": true, "USDC": true, "BTC": true, "USDT": true, "SEI": true,
}

// defaultExtractToolHints parses a "Selected tools: [name with param: value, ...]"
// line case-insensitively, matching each available tool by exact id, by
// space-for-underscore form, or by any underscore-token of length > 3. It
// also extracts inline parameter hints: 0x-addresses become "address",
// known token symbols become "token", and other short numeric-looking
// tokens become "limit"/"amount".
func defaultExtractToolHints(text string, tools []Tool) []ToolSelection {
	start := strings.Index(strings.ToLower(text), "selected tools:")
	if start < 0 {
		return nil
	}
	body := text[start+len("selected tools:"):]
	body = strings.TrimSpace(body)
	body = strings.TrimPrefix(body, "[")
	body = strings.TrimSuffix(strings.TrimSpace(body), "]")
	if body == "" {
		return nil
	}

	var selections []ToolSelection
	for _, entry := range strings.Split(body, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, hintText := splitNameAndHints(entry)
		matched := matchTool(name, tools)
		if matched == "" {
			continue
		}
		selections = append(selections, ToolSelection{
			Name:   matched,
			Params: extractParams(hintText),
		})
	}
	return selections
}

func splitNameAndHints(entry string) (name, hints string) {
	idx := strings.Index(entry, " with ")
	if idx < 0 {
		return strings.TrimSpace(entry), ""
	}
	return strings.TrimSpace(entry[:idx]), strings.TrimSpace(entry[idx+len(" with "):])
}

func matchTool(name string, tools []Tool) string {
	lowerName := strings.ToLower(strings.TrimSpace(name))
	spaceForm := strings.ReplaceAll(lowerName, "_", " ")

	for _, t := range tools {
		lowerID := strings.ToLower(t.Name)
		if lowerID == lowerName {
			return t.Name
		}
		if strings.ReplaceAll(lowerID, "_", " ") == spaceForm {
			return t.Name
		}
		for _, tok := range strings.Split(lowerID, "_") {
			if len(tok) > 3 && strings.Contains(lowerName, tok) {
				return t.Name
			}
		}
	}
	return ""
}

func extractParams(hints string) map[string]any {
	if hints == "" {
		return nil
	}
	params := make(map[string]any)
	for _, field := range strings.Split(hints, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		parts := strings.SplitN(field, ":", 2)
		var key, value string
		if len(parts) == 2 {
			key = strings.TrimSpace(parts[0])
			value = strings.TrimSpace(parts[1])
		} else {
			value = field
		}

		switch {
		case ethAddressPattern.MatchString(value):
			if key == "" {
				key = "address"
			}
			params[key] = ethAddressPattern.FindString(value)
		case knownTokenSymbols[strings.ToUpper(value)]:
			if key == "" {
				key = "token"
			}
			params[key] = strings.ToUpper(value)
		default:
			if key == "" {
				key = inferNumericKey(value)
			}
			if key != "" {
				params[key] = value
			}
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// inferNumericKey classifies a short bare value as "limit" (integer-looking,
// small) or "amount" (decimal-looking); returns "" when neither applies.
func inferNumericKey(value string) string {
	if len(value) == 0 || len(value) > 20 {
		return ""
	}
	if strings.Contains(value, ".") {
		if _, err := strconv.ParseFloat(value, 64); err == nil {
			return "amount"
		}
		return ""
	}
	if _, err := strconv.Atoi(value); err == nil {
		return "limit"
	}
	return ""
}
