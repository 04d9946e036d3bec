package domain

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// MessageArgs carries the details a user-facing message may interpolate.
type MessageArgs struct {
	Need          int64
	Have          int64
	ExistingJobID string
}

const (
	msgBlocked       = "Your account is blocked. Contact support to restore access."
	msgDuplicate     = "This request is already being processed (job %s)."
	msgDuplicateBusy = "A request from this conversation is already being processed. Wait for it to finish."
	msgConcurrency   = "Too many generations are running. Wait for one to finish and try again."
	msgInsufficient  = "Insufficient funds: need %d, have %d. Top up your balance to continue."
	msgAdminLimit    = "The admin spending limit for this period is reached. Ask a root admin to raise it."
	msgInvalidParams = "Some parameters are invalid. Fix the settings and submit again."
	msgUnknownModel  = "This model is not available. Choose another model."
	msgRateLimited   = "The provider is busy right now. Try again shortly."
	msgServerError   = "Temporary provider error. Try again shortly."
	msgNetwork       = "Could not reach the provider. Try again shortly."
	msgValidation    = "The provider rejected these parameters. Adjust the settings and submit again."
	msgAuth          = "The provider rejected our credentials. An administrator must fix the provider account."
	msgUnknown       = "Generation failed. Try again later."
)

var supportedLocales = []language.Tag{language.English, language.Indonesian}

var localeMatcher = language.NewMatcher(supportedLocales)

func init() {
	id := language.Indonesian
	for key, text := range map[string]string{
		msgBlocked:       "Akun Anda diblokir. Hubungi dukungan untuk memulihkan akses.",
		msgDuplicate:     "Permintaan ini sedang diproses (job %s).",
		msgDuplicateBusy: "Permintaan dari percakapan ini sedang diproses. Tunggu hingga selesai.",
		msgConcurrency:   "Terlalu banyak generasi berjalan. Tunggu salah satu selesai lalu coba lagi.",
		msgInsufficient:  "Saldo tidak cukup: butuh %d, tersedia %d. Isi ulang saldo untuk melanjutkan.",
		msgAdminLimit:    "Batas pengeluaran admin periode ini tercapai. Minta root admin menaikkannya.",
		msgInvalidParams: "Beberapa parameter tidak valid. Perbaiki pengaturan lalu kirim ulang.",
		msgUnknownModel:  "Model ini tidak tersedia. Pilih model lain.",
		msgRateLimited:   "Penyedia sedang sibuk. Coba lagi sebentar lagi.",
		msgServerError:   "Kesalahan sementara pada penyedia. Coba lagi sebentar lagi.",
		msgNetwork:       "Tidak dapat menghubungi penyedia. Coba lagi sebentar lagi.",
		msgValidation:    "Penyedia menolak parameter ini. Sesuaikan pengaturan lalu kirim ulang.",
		msgAuth:          "Penyedia menolak kredensial kami. Administrator harus memperbaiki akun penyedia.",
		msgUnknown:       "Generasi gagal. Coba lagi nanti.",
	} {
		_ = message.SetString(id, key, text)
	}
}

// MatchLocale picks the closest supported locale for an Accept-Language style
// value, defaulting to English.
func MatchLocale(raw string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(raw)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := localeMatcher.Match(tags...)
	return supportedLocales[idx]
}

// UserMessage renders the short kind-specific text shown to end users.
// Raw error strings never leak through it.
func UserMessage(tag language.Tag, kind ErrorKind, args MessageArgs) string {
	p := message.NewPrinter(tag)
	switch kind {
	case KindBlockedAccount:
		return p.Sprintf(msgBlocked)
	case KindDuplicate:
		if args.ExistingJobID == "" {
			return p.Sprintf(msgDuplicateBusy)
		}
		return p.Sprintf(msgDuplicate, args.ExistingJobID)
	case KindConcurrencyLimit:
		return p.Sprintf(msgConcurrency)
	case KindInsufficientFunds:
		return p.Sprintf(msgInsufficient, args.Need, args.Have)
	case KindAdminLimitExceeded:
		return p.Sprintf(msgAdminLimit)
	case KindInvalidParameters:
		return p.Sprintf(msgInvalidParams)
	case KindUnknownModel:
		return p.Sprintf(msgUnknownModel)
	case KindRateLimited:
		return p.Sprintf(msgRateLimited)
	case KindServerError:
		return p.Sprintf(msgServerError)
	case KindNetwork:
		return p.Sprintf(msgNetwork)
	case KindValidation:
		return p.Sprintf(msgValidation)
	case KindAuth:
		return p.Sprintf(msgAuth)
	default:
		return p.Sprintf(msgUnknown)
	}
}

// RejectionMessage is UserMessage for an admission rejection.
func RejectionMessage(tag language.Tag, r *Rejection) string {
	if r == nil {
		return ""
	}
	return UserMessage(tag, r.Kind, MessageArgs{Need: r.Need, Have: r.Have, ExistingJobID: r.ExistingJobID})
}
