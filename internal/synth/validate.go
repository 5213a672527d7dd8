package synth

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyerfyer/paper-dataset/internal/models"
)

// ValidateTurns 检查对话是否可以作为训练样本
// 至少两轮，用户先说，严格交替，没有空白发言，单轮不超过maxTurnChars个字符
func ValidateTurns(turns []models.Turn, maxTurnChars int) error {
	if len(turns) < 2 {
		return malformed("expected at least 2 turns, got %d", len(turns))
	}
	if turns[0].Speaker != models.SpeakerUser {
		return malformed("first turn must come from the user, got %q", turns[0].Speaker)
	}
	for i, t := range turns {
		if i > 0 && t.Speaker == turns[i-1].Speaker {
			return malformed("turn %d repeats speaker %q", i, t.Speaker)
		}
		if strings.TrimSpace(t.Text) == "" {
			return malformed("turn %d is blank", i)
		}
		if maxTurnChars > 0 && utf8.RuneCountInString(t.Text) > maxTurnChars {
			return malformed("turn %d exceeds %d characters", i, maxTurnChars)
		}
	}
	return nil
}

func malformed(format string, args ...any) error {
	return models.NewError(models.KindMalformedGeneration, fmt.Sprintf(format, args...), nil)
}
