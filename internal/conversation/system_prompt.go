package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/leadrelay/internal/leads"
	"github.com/wolfman30/leadrelay/internal/profile"
)

const (
	defaultLeadName      = "Prospect"
	welcomeInstruction   = "Génère le premier SMS d'approche."
	missedCallAnnotation = "Appel manqué détecté."
)

// replySystemPrompt builds the qualification prompt used for every automated reply.
// A custom prompt from the profile replaces the built-in persona.
func replySystemPrompt(cfg profile.Config, lead *leads.Lead) string {
	var b strings.Builder
	if custom := strings.TrimSpace(cfg.CustomSystemPrompt); custom != "" {
		b.WriteString(custom)
	} else {
		fmt.Fprintf(&b,
			"Tu es %s, assistante chez %s. Tu discutes par SMS avec un potentiel client (%s). "+
				"Ton but est de qualifier le lead (propriétaire ? type de toit ? facture électricité ?). "+
				"Sois brève, empathique et naturelle. Ne pose qu'une seule question à la fois.",
			cfg.AssistantName, cfg.CompanyName, leadName(lead))
	}
	if link := strings.TrimSpace(cfg.SchedulingLink); link != "" {
		fmt.Fprintf(&b, "\nSi le prospect est qualifié et souhaite un rendez-vous, propose-lui ce lien : %s", link)
	}
	return b.String()
}

// welcomeSystemPrompt asks for the first outreach SMS to a freshly created lead.
func welcomeSystemPrompt(cfg profile.Config, lead *leads.Lead) string {
	return fmt.Sprintf(
		"Tu es %s, assistante chez %s. Un nouveau lead vient d'arriver : %s. "+
			"Rédige un SMS très court (max 160 caractères), empathique et professionnel pour valider qu'il est bien propriétaire. "+
			"Ne sois pas trop formelle, sois humaine.",
		cfg.AssistantName, cfg.CompanyName, leadName(lead))
}

func welcomeTemplate(cfg profile.Config, lead *leads.Lead) string {
	return fmt.Sprintf("Bonjour %s, c'est %s de chez %s. Êtes-vous toujours intéressé par une installation solaire ?",
		leadName(lead), cfg.AssistantName, cfg.CompanyName)
}

func missedCallTemplate(cfg profile.Config) string {
	return fmt.Sprintf("Bonjour, c'est %s. Je suis actuellement sur un toit. Comment puis-je vous aider ?", cfg.CompanyName)
}

func leadName(lead *leads.Lead) string {
	if lead == nil || strings.TrimSpace(lead.Name) == "" {
		return defaultLeadName
	}
	return strings.TrimSpace(lead.Name)
}

// Preview returns what the automated path would send next for lead: the
// welcome message when its history is empty, otherwise a reply. Nothing is
// stored or sent.
func Preview(ctx context.Context, gen ReplyGenerator, cfg profile.Config, lead *leads.Lead) (string, error) {
	if len(lead.History) == 0 {
		return gen.GenerateReply(ctx, welcomeSystemPrompt(cfg, lead), []leads.Turn{{Role: leads.RoleUser, Content: welcomeInstruction}})
	}
	return gen.GenerateReply(ctx, replySystemPrompt(cfg, lead), lead.History)
}
