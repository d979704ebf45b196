package conversation

import (
	"regexp"
	"strings"
)

// ReplyGuardResult is the verdict on a generated SMS reply.
type ReplyGuardResult struct {
	Blocked bool
	Reasons []string
	// Sanitized is the reply to send. Empty when Blocked.
	Sanitized string
}

type replyLeakPattern struct {
	re     *regexp.Regexp
	reason string
	block  bool
}

var replyLeakPatterns = []replyLeakPattern{
	{regexp.MustCompile(`(?i)(mes|my) (instructions|consignes|system prompt|prompt système)`), "leak:prompt_disclosure", true},
	{regexp.MustCompile(`(?i)(je suis|i('m| am)) (programmée?|configurée?|programmed|instructed) pour`), "leak:programming_disclosure", true},
	{regexp.MustCompile(`(?i)(propulsée? par|basée? sur|powered by|built on)\s+(GPT|OpenAI|Claude|Anthropic|Bedrock|Gemini)`), "leak:tech_stack", true},
	{regexp.MustCompile(`(?i)(api[_\s]?key|secret|access[_\s]?token|bearer)\s*[:=]\s*\S+`), "leak:credential", true},
	{regexp.MustCompile(`AKIA[A-Z0-9]{16}`), "leak:aws_key", true},
	{regexp.MustCompile(`(?i)(postgres|postgresql|redis|rediss)://\S+`), "leak:database_url", true},
	{regexp.MustCompile(`(?i)/admin/|/api/incoming-`), "leak:internal_path", true},
	{regexp.MustCompile(`(?i)\b(je suis|i('m| am)) (une? )?(IA|intelligence artificielle|AI|chatbot|robot|modèle de langage|language model)\b`), "leak:ai_identity", false},
}

var aiIdentitySentence = regexp.MustCompile(`(?i)[^.!?]*\b(je suis|i('m| am)) (une? )?(IA|intelligence artificielle|AI|chatbot|robot|modèle de langage|language model)\b[^.!?]*[.!?]?\s*`)

// GuardReply scans a generated reply before it goes out by SMS. Infrastructure
// or prompt leaks block the reply; an identity disclosure is cut out.
func GuardReply(reply string) ReplyGuardResult {
	if strings.TrimSpace(reply) == "" {
		return ReplyGuardResult{Sanitized: reply}
	}

	var reasons []string
	block := false
	for _, p := range replyLeakPatterns {
		if p.re.MatchString(reply) {
			reasons = append(reasons, p.reason)
			if p.block {
				block = true
			}
		}
	}
	if len(reasons) == 0 {
		return ReplyGuardResult{Sanitized: reply}
	}
	if block {
		return ReplyGuardResult{Blocked: true, Reasons: reasons}
	}

	cleaned := strings.TrimSpace(aiIdentitySentence.ReplaceAllString(reply, ""))
	if cleaned == "" {
		return ReplyGuardResult{Blocked: true, Reasons: reasons}
	}
	return ReplyGuardResult{Reasons: reasons, Sanitized: cleaned}
}
