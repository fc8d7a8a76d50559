package prompts

import (
	"strings"
	"testing"
)

func TestSystemPrompt(t *testing.T) {
	result := SystemPrompt("Farmácia Teste", "(11) 99999-0000")

	if !strings.Contains(result, "Farmácia Teste") {
		t.Error("prompt should contain store name")
	}
	if !strings.Contains(result, "(11) 99999-0000") {
		t.Error("prompt should contain support contact")
	}
	if strings.Contains(result, "%!") {
		t.Errorf("prompt has a formatting error: %q", result)
	}
	if strings.Contains(result, "Você DEVE chamar") {
		t.Error("base prompt should not include the tool directive")
	}
}

func TestWithToolDirective(t *testing.T) {
	result := WithToolDirective("base", []string{"cart_mutation", "product_name"})

	if !strings.HasPrefix(result, "base\n\n") {
		t.Errorf("directive should be appended, got %q", result)
	}
	if !strings.Contains(result, "DEVE chamar") {
		t.Error("directive text missing")
	}
	if !strings.Contains(result, "cart_mutation, product_name") {
		t.Error("categories should be listed")
	}
	if strings.Contains(WithToolDirective("base", nil), "Intenção detectada") {
		t.Error("no categories line without categories")
	}
}

func TestRewritePrompt(t *testing.T) {
	result := RewritePrompt("qto custa a dipiroma")
	if !strings.Contains(result, "qto custa a dipiroma") {
		t.Error("prompt should contain the raw message")
	}
	if !strings.Contains(result, "NÃO acrescente") {
		t.Error("prompt should forbid inventing intent")
	}
}

func TestApology(t *testing.T) {
	result := Apology("nosso WhatsApp")
	if !strings.Contains(result, "nosso WhatsApp") {
		t.Errorf("apology should name the contact, got %q", result)
	}
}

func TestToolResultPlaceholder(t *testing.T) {
	tests := []struct {
		name    string
		success bool
		message string
		want    string
	}{
		{"view_cart", true, "", "[resultado de view_cart: ok]"},
		{"add_to_cart", false, "estoque insuficiente", "[resultado de add_to_cart: falhou] estoque insuficiente"},
	}
	for _, tt := range tests {
		if got := ToolResultPlaceholder(tt.name, tt.success, tt.message); got != tt.want {
			t.Errorf("ToolResultPlaceholder(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
