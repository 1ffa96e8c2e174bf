package handlers

import "photobooth/internal/domain"

// localizedStatus carries the short kind-specific slot status strings per
// supported locale. English is the fallback for missing entries.
var localizedStatus = map[string]map[domain.ErrorKind]string{
	"en": {
		domain.ErrKindInsufficientFunds: "Out of credits",
		domain.ErrKindAuthRequired:      "Account action needed",
		domain.ErrKindContentFiltered:   "Blocked by content filter",
		domain.ErrKindMissingResult:     "No image returned",
		domain.ErrKindNetwork:           "Connection problem",
		domain.ErrKindTimeout:           "Took too long",
		domain.ErrKindGeneric:           "Generation failed",
	},
	"es": {
		domain.ErrKindInsufficientFunds: "Sin créditos",
		domain.ErrKindAuthRequired:      "Se requiere acción en la cuenta",
		domain.ErrKindContentFiltered:   "Bloqueado por el filtro de contenido",
		domain.ErrKindMissingResult:     "No se recibió ninguna imagen",
		domain.ErrKindNetwork:           "Problema de conexión",
		domain.ErrKindTimeout:           "Tardó demasiado",
		domain.ErrKindGeneric:           "La generación falló",
	},
	"ja": {
		domain.ErrKindInsufficientFunds: "クレジットが不足しています",
		domain.ErrKindAuthRequired:      "アカウントの操作が必要です",
		domain.ErrKindContentFiltered:   "コンテンツフィルターによりブロックされました",
		domain.ErrKindMissingResult:     "画像が返されませんでした",
		domain.ErrKindNetwork:           "接続に問題があります",
		domain.ErrKindTimeout:           "時間がかかりすぎました",
		domain.ErrKindGeneric:           "生成に失敗しました",
	},
}

func statusText(locale string, kind domain.ErrorKind) string {
	if table, ok := localizedStatus[locale]; ok {
		if s, ok := table[kind]; ok {
			return s
		}
	}
	if s, ok := localizedStatus["en"][kind]; ok {
		return s
	}
	return localizedStatus["en"][domain.ErrKindGeneric]
}
