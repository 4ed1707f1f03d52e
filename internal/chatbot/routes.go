package chatbot

import (
	"github.com/ashureev/zapito/internal/domain"
	"github.com/ashureev/zapito/internal/textnorm"
)

// Escape words recognized inside the Sac, Outros and Feedback menus. They
// match anywhere in the normalized input.
const (
	keywordMenu     = "menu"
	keywordFinalize = "finalizar"
)

// Development-only reset literal. Normalization strips the underscore, so both
// spellings are accepted.
const (
	devResetRaw        = "dev_reset"
	devResetNormalized = "devreset"
)

// Fixed replies.
const (
	textDevReset      = "🔄 Sessão reiniciada (DEV)"
	textInternalError = "⚠️ Erro interno. Tente novamente."
	textFeedbackHint  = "Digite 'menu' ou 'finalizar'."
)

// Stat keys.
const (
	statSales      = "vendas"
	statOrder      = "pedido"
	statSacMenu    = "sac_menu"
	statOutrosMenu = "outros_menu"
	statSacPrefix  = "sac_"
	statInfoPrefix = "outros_"
)

type option int

const (
	optionSales option = iota + 1
	optionOrder
	optionSac
	optionOther
)

func (o option) String() string {
	switch o {
	case optionSales:
		return "sales"
	case optionOrder:
		return "order_status"
	case optionSac:
		return "support"
	case optionOther:
		return "other"
	default:
		return "unknown"
	}
}

// optionAliases is the Options menu route table. Anything else re-sends the
// main menu.
var optionAliases = map[option][]string{
	optionSales: {"1", "vendas", "vendedor"},
	optionOrder: {"2", "pedido", "posicao de pedido", "posição de pedido"},
	optionSac:   {"3", "sac"},
	optionOther: {"4", "outros"},
}

// sacSector maps a normalized phrase to the sector name stored on support
// agents.
type sacSector struct {
	Phrase string
	Sector string
}

var sacSectors = []sacSector{
	{"vendedores loja fisica", "Vendedores / Loja Física"},
	{"mercado livre", "Mercado Livre"},
	{"shopee amazon magalu", "Shopee / Amazon / Magalu"},
	{"realizar uma reclamacao", "Realizar uma Reclamação"},
}

// infoRoute maps a normalized phrase to a static info template.
type infoRoute struct {
	Phrase   string
	Template string
}

var infoRoutes = []infoRoute{
	{"duvidas sobre o site", domain.TemplateSiteFAQ},
	{"endereco", domain.TemplateAddress},
	{"horario de funcionamento", domain.TemplateBusinessHours},
	{"telefone", domain.TemplatePhone},
	{"numero para ligacoes", domain.TemplatePhone},
	{"número para ligações", domain.TemplatePhone},
	{"trabalhe conosco", domain.TemplateCareers},
}

// routeTable holds the lookup maps built from the tables above, keyed by
// normalized phrase.
type routeTable struct {
	options map[string]option
	sectors map[string]string
	info    map[string]string
}

func buildRouteTable() routeTable {
	rt := routeTable{
		options: make(map[string]option),
		sectors: make(map[string]string),
		info:    make(map[string]string),
	}
	for opt, aliases := range optionAliases {
		for _, a := range aliases {
			rt.options[textnorm.Normalize(a)] = opt
		}
	}
	for _, s := range sacSectors {
		rt.sectors[textnorm.Normalize(s.Phrase)] = s.Sector
	}
	for _, r := range infoRoutes {
		rt.info[textnorm.Normalize(r.Phrase)] = r.Template
	}
	return rt
}

var routes = buildRouteTable()
