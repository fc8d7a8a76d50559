package prompts

import "fmt"

// ForcedFinalInstruction is sent as the last user-role message of the
// tool-less finalizing call when the loop exhausts its iterations.
const ForcedFinalInstruction = `Pare de chamar ferramentas. Com base apenas nas informações já obtidas acima, responda agora ao cliente em linguagem natural, em português, de forma curta. Se algo não pôde ser concluído, explique o que faltou.`

// FinalFallback is the answer used when even the finalizing call
// returns no text.
const FinalFallback = "Consegui processar parte do seu pedido, mas não consegui concluir a resposta agora. Pode reformular ou me dizer como prefere continuar?"

// ToolCallPlaceholder is the stored content of an assistant turn that
// only carried tool calls.
const ToolCallPlaceholder = "[chamando ferramentas]"

// apologyTemplate is the user-facing text for model or provider failures.
// Format verb: support contact.
const apologyTemplate = "Desculpe, estou com dificuldades para responder agora. Tente novamente em instantes ou fale com %s."

// Apology returns the static apology with the human contact fallback.
func Apology(supportContact string) string {
	return fmt.Sprintf(apologyTemplate, supportContact)
}

// ToolResultPlaceholder renders a stored tool result as compact text for
// history replay and session views.
func ToolResultPlaceholder(name string, success bool, message string) string {
	status := "ok"
	if !success {
		status = "falhou"
	}
	if message == "" {
		return fmt.Sprintf("[resultado de %s: %s]", name, status)
	}
	return fmt.Sprintf("[resultado de %s: %s] %s", name, status, message)
}
