package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "valid contains",
			expr:      `text.contains("pix")`,
			wantError: false,
		},
		{
			name:      "valid conjunction",
			expr:      `kind == "image" && text.size() > 0`,
			wantError: false,
		},
		{
			name:      "invalid expression",
			expr:      `invalid syntax here!!!`,
			wantError: true,
		},
		{
			name:      "undefined variable",
			expr:      `payload.amount > 10`,
			wantError: true,
		},
		{
			name:      "non-bool expression",
			expr:      `text + "x"`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	in := Input{
		Text:   "urgent: send pix to chave 123",
		Raw:    "URGENT: send PIX to chave 123",
		ChatID: "-100",
		UserID: "7",
		Kind:   "text",
		Source: "text",
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"contains", `text.contains("pix")`, true},
		{"starts_with", `text.startsWith("urgent")`, true},
		{"raw keeps case", `raw.contains("PIX")`, true},
		{"chat match", `chat_id == "-100"`, true},
		{"kind mismatch", `kind == "image"`, false},
		{"regex", `text.matches("chave \\d+")`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.EvaluateExpression(context.Background(), tt.expr, in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileOnceEvaluateMany(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	program, err := eval.Compile(`text.contains("gift card")`)
	require.NoError(t, err)

	hit, err := eval.Evaluate(context.Background(), program, Input{Text: "buy a gift card now"})
	require.NoError(t, err)
	assert.True(t, hit)

	miss, err := eval.Evaluate(context.Background(), program, Input{Text: "hello"})
	require.NoError(t, err)
	assert.False(t, miss)
}

func TestExpressionExamplesCompile(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	for name, expr := range ExpressionExamples {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, eval.ValidateExpression(expr))
		})
	}
}
