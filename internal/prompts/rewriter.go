package prompts

import "fmt"

// rewriteTemplate asks a model to restate a customer's message clearly.
// Format verb: the raw message.
const rewriteTemplate = `Reescreva a mensagem do cliente de uma farmácia online em português claro e correto.

Regras:
- Corrija erros de digitação e expanda abreviações (vc → você, qto → quanto, cx → caixa).
- Preserve exatamente a intenção, quantidades, nomes de produtos e números.
- NÃO acrescente informações, pedidos ou intenções que o cliente não expressou.
- NÃO responda à mensagem. Apenas reescreva.
- Devolva somente o texto reescrito, sem aspas e sem prefixos.

Mensagem: %s
Reescrita:`

// RewritePrompt returns the prompt that restates raw without inventing
// intent.
func RewritePrompt(raw string) string {
	return fmt.Sprintf(rewriteTemplate, raw)
}
