package rules

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// Rule is the structured view of one entry. The merger never rewrites entries
// from it; it only exists to report lines the rule engine would not accept.
type Rule struct {
	Type    string // e.g. "DOMAIN-SUFFIX", "IP-CIDR"; bare payload lines get the implied type
	Value   string
	Action  string   // optional in rule-provider payloads
	Options []string // e.g. "no-resolve", "src"
}

var classicalTypes = map[string]bool{
	"DOMAIN":         true,
	"DOMAIN-SUFFIX":  true,
	"DOMAIN-KEYWORD": true,
	"DOMAIN-REGEX":   true,
	"GEOSITE":        true,
	"GEOIP":          true,
	"IP-CIDR":        true,
	"IP-CIDR6":       true,
	"IP-SUFFIX":      true,
	"IP-ASN":         true,
	"SRC-GEOIP":      true,
	"SRC-IP-CIDR":    true,
	"SRC-PORT":       true,
	"DST-PORT":       true,
	"IN-PORT":        true,
	"NETWORK":        true,
	"PROCESS-NAME":   true,
	"PROCESS-PATH":   true,
	"URL-REGEX":      true,
	"USER-AGENT":     true,
	"RULE-SET":       true,
}

var ruleOptions = map[string]bool{
	"no-resolve": true,
	"src":        true,
}

// Inspect parses a single entry. It accepts classical lines
// (TYPE,VALUE[,ACTION][,OPTION...]), logical rules (AND/OR/NOT), and the bare
// domain and CIDR lines used by domain/ipcidr rule providers.
func Inspect(entry string) (Rule, error) {
	line := strings.TrimSpace(strings.TrimSuffix(entry, "\r"))
	if line == "" {
		return Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "rule line is empty"}
	}
	if isCommentText(line) {
		return Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "rule line is comment"}
	}
	if !strings.Contains(line, ",") {
		return inspectBare(line)
	}

	head, rest, _ := strings.Cut(line, ",")
	typ := strings.ToUpper(strings.TrimSpace(head))
	switch typ {
	case "AND", "OR", "NOT":
		return inspectLogical(typ, strings.TrimSpace(rest))
	case "MATCH", "FINAL":
		action := strings.TrimSpace(rest)
		if action == "" || strings.Contains(action, ",") {
			return Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "MATCH 规则必须是 MATCH,<ACTION>"}
		}
		return Rule{Type: "MATCH", Action: action}, nil
	}
	if !classicalTypes[typ] {
		return Rule{}, &RuleError{
			Code:    "UNSUPPORTED_RULE_TYPE",
			Message: fmt.Sprintf("不支持的规则类型：%s", typ),
		}
	}

	parts := strings.Split(rest, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[0] == "" {
		return Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则 VALUE 不能为空"}
	}
	r := Rule{Type: typ, Value: parts[0]}

	for i, p := range parts[1:] {
		switch {
		case p == "":
			return Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: "规则字段不能为空"}
		case ruleOptions[strings.ToLower(p)]:
			r.Options = append(r.Options, strings.ToLower(p))
		case i == 0:
			r.Action = p
		default:
			return Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: "规则字段数量不合法",
				Hint:    "expected: TYPE,VALUE[,ACTION][,no-resolve]",
			}
		}
	}

	switch typ {
	case "IP-CIDR", "SRC-IP-CIDR":
		if err := validateCIDR(r.Value, false); err != nil {
			return Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: "IP-CIDR 的 CIDR 不合法",
				Hint:    "expected: CIDR, e.g. 1.2.3.0/24",
				Cause:   err,
			}
		}
	case "IP-CIDR6":
		if err := validateCIDR(r.Value, true); err != nil {
			return Rule{}, &RuleError{
				Code:    "RULE_PARSE_ERROR",
				Message: "IP-CIDR6 的 CIDR 不合法",
				Hint:    "expected: IPv6 CIDR, e.g. 2001:db8::/32",
				Cause:   err,
			}
		}
	}
	return r, nil
}

func inspectLogical(typ, rest string) (Rule, error) {
	if !strings.HasPrefix(rest, "(") {
		return Rule{}, &RuleError{
			Code:    "RULE_PARSE_ERROR",
			Message: fmt.Sprintf("%s 规则的子规则必须用括号包裹", typ),
			Hint:    "expected: AND,((TYPE,VALUE),(TYPE,VALUE)),ACTION",
		}
	}
	depth := 0
	for i, c := range rest {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				r := Rule{Type: typ, Value: rest[:i+1]}
				tail := strings.TrimSpace(rest[i+1:])
				if tail != "" {
					r.Action = strings.TrimSpace(strings.TrimPrefix(tail, ","))
				}
				return r, nil
			}
		}
	}
	return Rule{}, &RuleError{Code: "RULE_PARSE_ERROR", Message: fmt.Sprintf("%s 规则括号不匹配", typ)}
}

func inspectBare(line string) (Rule, error) {
	if p, err := netip.ParsePrefix(line); err == nil {
		if p.Addr().Is4() {
			return Rule{Type: "IP-CIDR", Value: line}, nil
		}
		return Rule{Type: "IP-CIDR6", Value: line}, nil
	}
	if isDomainPattern(line) {
		return Rule{Type: "DOMAIN", Value: line}, nil
	}
	return Rule{}, &RuleError{
		Code:    "RULE_PARSE_ERROR",
		Message: "无法识别的规则行",
		Hint:    "expected: TYPE,VALUE[,ACTION], a domain, or a CIDR",
	}
}

// isDomainPattern accepts plain domains and the "+." / "*." wildcard prefixes.
func isDomainPattern(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "+."), "*.")
	if s == "" || strings.HasPrefix(s, ".") || strings.HasSuffix(s, "..") {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '*':
		default:
			return false
		}
	}
	return true
}

func validateCIDR(s string, want6 bool) error {
	p, err := netip.ParsePrefix(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	if want6 && p.Addr().Is4() {
		return errors.New("not an ipv6 cidr")
	}
	return nil
}
