package assistant

import (
	"fmt"
	"strings"
	"time"

	"github.com/companion/companion/internal/domain/health"
)

// nowFunc is swapped in tests.
var nowFunc = time.Now

// PatientContext is the structured summary folded into every prompt. Any
// field may be empty when the lookup failed or the profile is incomplete.
type PatientContext struct {
	Name         string
	Age          *int
	Gender       string
	Note         string
	Measurements []*health.Measurement
	Complaints   []*health.Complaint
}

// BuildPrompt renders the Turkish system prompt with the patient context and
// the user's message. The assistant is framed as a health companion that
// informs without diagnosing.
func BuildPrompt(pctx *PatientContext, userText string) string {
	var b strings.Builder

	b.WriteString("Sen bir sağlık asistanısın. Hastalara sağlık konularında yardımcı oluyorsun. ")
	b.WriteString("Kısa, anlaşılır ve nazik yanıtlar ver. Teşhis koyma; gerektiğinde hastayı doktoruna yönlendir.\n\n")

	b.WriteString("Hasta bilgileri:\n")
	if pctx.Name != "" {
		fmt.Fprintf(&b, "- İsim: %s\n", pctx.Name)
	}
	if pctx.Age != nil {
		fmt.Fprintf(&b, "- Yaş: %d\n", *pctx.Age)
	}
	if pctx.Gender != "" {
		fmt.Fprintf(&b, "- Cinsiyet: %s\n", pctx.Gender)
	}
	if pctx.Note != "" {
		fmt.Fprintf(&b, "- Not: %s\n", pctx.Note)
	}

	if len(pctx.Measurements) > 0 {
		b.WriteString("\nSon ölçümler:\n")
		for _, m := range pctx.Measurements {
			fmt.Fprintf(&b, "- %s: %.1f %s (%s)\n",
				m.TypeName, m.Value, m.Unit, m.MeasuredAt.Format("02.01.2006 15:04"))
		}
	}

	if len(pctx.Complaints) > 0 {
		b.WriteString("\nAktif şikayetler:\n")
		for _, c := range pctx.Complaints {
			fmt.Fprintf(&b, "- %s\n", c.Description)
		}
	}

	b.WriteString("\nHastanın mesajı: ")
	b.WriteString(userText)
	b.WriteString("\n\nYanıtını Türkçe yaz.")

	return b.String()
}
