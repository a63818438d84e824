package fraud

// DefaultRules ships with the service. A configured rule with the same id
// replaces the default in place.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "cloudwalk-mention",
			Description: "Cloudwalk enterprise mention",
			Kind:        KindKeywordSet,
			Severity:    1,
			Critical:    true,
			WholeWord:   true,
			Patterns:    []string{"cloudwalk"},
			Enabled:     true,
		},
		{
			ID:          "urgent-payment-keyword",
			Description: "Pressure to pay or transfer urgently",
			Kind:        KindKeywordSet,
			Severity:    5,
			WholeWord:   true,
			Patterns:    []string{"urgent", "urgently", "immediately", "asap", "urgente", "imediatamente"},
			Enabled:     true,
		},
		{
			ID:          "account-number-pattern",
			Description: "Bank account or card number",
			Kind:        KindRegex,
			Severity:    3,
			Patterns: []string{
				`\b(?:account|acct|conta|iban)\s*(?:number|no\.?|n[ºo°]|#)?\s*:?\s*[a-z]{0,2}\d{4}`,
				`\b\d{4}[ -]\d{4}[ -]\d{4}[ -]\d{4}\b`,
			},
			Enabled: true,
		},
		{
			ID:          "credential-phishing",
			Description: "Request for passwords or verification codes",
			Kind:        KindKeywordSet,
			Severity:    4,
			WholeWord:   true,
			Patterns:    []string{"password", "senha", "verification code", "código de verificação", "one-time code", "otp"},
			Enabled:     true,
		},
		{
			ID:          "crypto-giveaway",
			Description: "Crypto giveaway or doubling scheme",
			Kind:        KindExpression,
			Severity:    6,
			Expression: `["bitcoin", "btc", "usdt", "ethereum", "crypto"].exists(w, text.contains(w)) &&
				["giveaway", "double your", "send back", "airdrop"].exists(w, text.contains(w))`,
			Enabled: true,
		},
	}
}
