package i18n

var enUSCatalog = &Catalog{
	locale: "en-US",
	messages: map[Code]string{
		"UNKNOWN": "An unexpected error occurred.",

		// Phase machine errors
		"INVALID_PHASE_INPUT": "The {{.EventType}} input is not accepted during the {{.Phase}} phase.",
		"STALE_ROUND":         "That answer belongs to round {{.EventRound}}, but the session is on round {{.RoundIndex}}.",
		"SESSION_STOPPED":     "This training session has already ended.",

		// Delta protocol errors
		"VERSION_MISMATCH": "Your view of the session is out of date; a full refresh is on its way.",

		// Configuration errors
		"CONFIGURATION_ERROR": "The exercise is misconfigured: {{.Reason}}",

		// Session registry errors
		"SESSION_NOT_FOUND":    "Training session {{.SessionID}} was not found.",
		"SESSION_EXISTS":       "Training session {{.SessionID}} is already running.",
		"UNKNOWN_EXERCISE":     "There is no exercise named {{.Exercise}}.",
		"RESUME_TOKEN_INVALID": "The session could not be resumed; please start a new one.",

		"INVALID_ARGUMENT": "The request is invalid.",
		"NOT_FOUND":        "The requested item was not found.",
	},
}

var ptBRCatalog = &Catalog{
	locale: "pt-BR",
	messages: map[Code]string{
		"UNKNOWN": "Ocorreu um erro inesperado.",

		"INVALID_PHASE_INPUT": "A entrada {{.EventType}} não é aceita durante a fase {{.Phase}}.",
		"STALE_ROUND":         "Essa resposta pertence à rodada {{.EventRound}}, mas a sessão está na rodada {{.RoundIndex}}.",
		"SESSION_STOPPED":     "Esta sessão de treino já foi encerrada.",

		"VERSION_MISMATCH": "Sua visão da sessão está desatualizada; uma atualização completa está a caminho.",

		"CONFIGURATION_ERROR": "O exercício está mal configurado: {{.Reason}}",

		"SESSION_NOT_FOUND":    "A sessão de treino {{.SessionID}} não foi encontrada.",
		"SESSION_EXISTS":       "A sessão de treino {{.SessionID}} já está em andamento.",
		"UNKNOWN_EXERCISE":     "Não existe exercício chamado {{.Exercise}}.",
		"RESUME_TOKEN_INVALID": "Não foi possível retomar a sessão; inicie uma nova.",

		"INVALID_ARGUMENT": "A requisição é inválida.",
		"NOT_FOUND":        "O item solicitado não foi encontrado.",
	},
}
