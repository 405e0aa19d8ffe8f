package extractor

import (
	"context"

	"github.com/ingestlab/telecorpus/pkg/model"
	"github.com/ingestlab/telecorpus/pkg/store"
)

// builtinDetectors is the minimum set spec.md §4.I requires: "email,
// international phone, EVM/BTC/TRX address, absolute URL, Telegram
// invite link, t.me username." Priority is descending; more specific
// patterns (invite links, t.me usernames) run before the generic
// absolute-URL catch-all, so for a t.me link the Telegram detection
// comes first in Extract's output; the absolute-URL detector still
// emits its own detection for the same text.
var builtinDetectors = []model.Detector{
	{
		Name:     "telegram_invite_link",
		Pattern:  `https?://t\.me/\+[A-Za-z0-9_-]+`,
		Category: string(model.DetectionInviteLink),
		Priority: 100,
		IsBuiltin: true,
	},
	{
		Name:     "telegram_username_link",
		Pattern:  `https?://t\.me/[A-Za-z][A-Za-z0-9_]{3,31}`,
		Category: string(model.DetectionTelegramLink),
		Priority: 90,
		IsBuiltin: true,
	},
	{
		Name:     "telegram_username",
		Pattern:  `@[A-Za-z][A-Za-z0-9_]{4,31}`,
		Category: string(model.DetectionTelegramUsername),
		Priority: 80,
		IsBuiltin: true,
	},
	{
		Name:     "email",
		Pattern:  `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
		Category: string(model.DetectionEmail),
		Priority: 70,
		IsBuiltin: true,
	},
	{
		Name:     "international_phone",
		Pattern:  `\+[1-9]\d{6,14}`,
		Category: string(model.DetectionPhone),
		Priority: 60,
		IsBuiltin: true,
	},
	{
		Name:     "evm_address",
		Pattern:  `0x[a-fA-F0-9]{40}`,
		Category: string(model.DetectionCrypto),
		Priority: 50,
		IsBuiltin: true,
	},
	{
		Name:     "btc_address",
		Pattern:  `\b(bc1[a-z0-9]{25,59}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})\b`,
		Category: string(model.DetectionCrypto),
		Priority: 50,
		IsBuiltin: true,
	},
	{
		Name:     "trx_address",
		Pattern:  `\bT[A-Za-z0-9]{33}\b`,
		Category: string(model.DetectionCrypto),
		Priority: 50,
		IsBuiltin: true,
	},
	{
		Name:     "absolute_url",
		Pattern:  `https?://[^\s]+`,
		Category: string(model.DetectionURL),
		Priority: 10,
		IsBuiltin: true,
	},
}

// EnsureBuiltins seeds the builtin detector set into the store,
// upserting on name so restarts don't duplicate rows (spec.md §4.I:
// "builtin detectors must include at least..."). Safe to call every
// startup.
func EnsureBuiltins(ctx context.Context, detectors *store.DetectorQuery) error {
	for _, d := range builtinDetectors {
		if _, err := detectors.Register(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
