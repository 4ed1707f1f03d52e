package chatbot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/zapito/internal/domain"
	"github.com/ashureev/zapito/internal/store"
)

const (
	testUser = "5511912345678"
	testName = "Maria"
)

type fakeStaff struct {
	mu           sync.Mutex
	seller       *domain.Staff
	support      map[string]*domain.Staff
	err          error
	sellerCalls  int
	supportCalls []string
}

func (f *fakeStaff) RotateSeller(_ context.Context) (*domain.Staff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sellerCalls++
	if f.err != nil {
		return nil, f.err
	}
	if f.seller == nil {
		return nil, store.ErrNoStaff
	}
	copy := *f.seller
	return &copy, nil
}

func (f *fakeStaff) RotateSupportAgent(_ context.Context, sector string) (*domain.Staff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.supportCalls = append(f.supportCalls, sector)
	if f.err != nil {
		return nil, f.err
	}
	agent, ok := f.support[sector]
	if !ok {
		return nil, store.ErrNoStaff
	}
	copy := *agent
	return &copy, nil
}

type fakeStats struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeStats) IncrementStat(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return f.err
}

// morning is 09:00 in Sao Paulo.
var morning = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine(staff StaffRotator, stats StatRecorder, cfg Config) *Engine {
	if cfg.Timezone == "" {
		cfg.Timezone = "America/Sao_Paulo"
	}
	return NewEngine(staff, stats, cfg, WithClock(func() time.Time { return morning }))
}

func defaultFakes() (*fakeStaff, *fakeStats) {
	return &fakeStaff{
		seller: &domain.Staff{ID: 1, Kind: domain.StaffSeller, Name: "Ana", Link: "https://wa.me/551100000001"},
		support: map[string]*domain.Staff{
			"Mercado Livre": {ID: 9, Kind: domain.StaffSupport, Name: "Davi", Sector: "Mercado Livre", Link: "https://wa.me/551100000009"},
		},
	}, &fakeStats{}
}

func mainMenuIntent(period string) domain.SendIntent {
	return domain.SendIntent{
		To: testUser, Kind: domain.SendTemplate, Template: domain.TemplateMainMenu,
		Language: domain.DefaultLanguage, Params: []string{testName, period},
	}
}

func tpl(name string, params ...string) domain.SendIntent {
	return domain.SendIntent{To: testUser, Kind: domain.SendTemplate, Template: name, Language: domain.DefaultLanguage, Params: params}
}

func process(e *Engine, state domain.State, text string) Result {
	return e.Process(context.Background(), Input{UserID: testUser, DisplayName: testName, Text: text, State: state})
}

func assertSends(t *testing.T, want []domain.SendIntent, got []domain.SendIntent) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sends mismatch (-want +got):\n%s", diff)
	}
}

func TestInitialStatesSendMainMenu(t *testing.T) {
	staff, stats := defaultFakes()
	e := newTestEngine(staff, stats, Config{})

	for _, state := range []domain.State{domain.StateInitial, domain.StateFinalized, domain.State("BOGUS")} {
		t.Run(string(state), func(t *testing.T) {
			res := process(e, state, "olá")
			assert.Equal(t, domain.StateOptions, res.Next)
			assertSends(t, []domain.SendIntent{mainMenuIntent("bom dia")}, res.Sends)
			assert.Nil(t, res.Staff)
		})
	}
}

func TestRestartKeywordsFromAnyState(t *testing.T) {
	staff, stats := defaultFakes()
	e := newTestEngine(staff, stats, Config{RestartKeys: []string{"Olá", "recomeçar"}})

	states := []domain.State{
		domain.StateInitial, domain.StateOptions, domain.StateSac,
		domain.StateOutros, domain.StateFeedback, domain.StateFinalized,
	}
	for _, state := range states {
		for _, text := range []string{"OLA", "quero recomecar!", "ola, finalizar"} {
			res := process(e, state, text)
			assert.Equal(t, domain.StateOptions, res.Next, "state=%s text=%q", state, text)
			assertSends(t, []domain.SendIntent{mainMenuIntent("bom dia")}, res.Sends)
		}
	}
	assert.Zero(t, staff.sellerCalls)
	assert.Empty(t, stats.keys)
}

func TestOptionsSales(t *testing.T) {
	for _, text := range []string{"1", "vendas", "Vendas", "VENDEDOR", "vendedor!", "  Vêndas "} {
		t.Run(text, func(t *testing.T) {
			staff, stats := defaultFakes()
			e := newTestEngine(staff, stats, Config{})

			res := process(e, domain.StateOptions, text)

			assert.Equal(t, domain.StateFeedback, res.Next)
			assert.Equal(t, 1, staff.sellerCalls)
			assert.Equal(t, &domain.StaffRef{Kind: domain.StaffSeller, ID: 1}, res.Staff)
			assertSends(t, []domain.SendIntent{
				tpl(domain.TemplateSeller, testName, "Ana", "https://wa.me/551100000001"),
			}, res.Sends)
			assert.Equal(t, []string{"vendas"}, stats.keys)
		})
	}
}

func TestOptionsRoutes(t *testing.T) {
	tests := []struct {
		text  string
		next  domain.State
		send  domain.SendIntent
		stat  string
		route string
	}{
		{"2", domain.StateFeedback, tpl(domain.TemplateOrder, testName), "pedido", "order_status"},
		{"Posição de pedido", domain.StateFeedback, tpl(domain.TemplateOrder, testName), "pedido", "order_status"},
		{"SAC", domain.StateSac, tpl(domain.TemplateSacMenu, testName), "sac_menu", "support"},
		{"3", domain.StateSac, tpl(domain.TemplateSacMenu, testName), "sac_menu", "support"},
		{"outros", domain.StateOutros, tpl(domain.TemplateOutrosMenu, testName), "outros_menu", "other"},
		{"4", domain.StateOutros, tpl(domain.TemplateOutrosMenu, testName), "outros_menu", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			staff, stats := defaultFakes()
			e := newTestEngine(staff, stats, Config{})

			res := process(e, domain.StateOptions, tt.text)

			assert.Equal(t, tt.next, res.Next)
			assert.Equal(t, tt.route, res.Route)
			assertSends(t, []domain.SendIntent{tt.send}, res.Sends)
			assert.Equal(t, []string{tt.stat}, stats.keys)
			assert.Zero(t, staff.sellerCalls)
		})
	}
}

func TestOptionsUnmatchedResendsMenu(t *testing.T) {
	staff, stats := defaultFakes()
	e := newTestEngine(staff, stats, Config{})

	for _, text := range []string{"5", "quero vendas", "", "🙂"} {
		res := process(e, domain.StateOptions, text)
		assert.Equal(t, domain.StateOptions, res.Next)
		assertSends(t, []domain.SendIntent{mainMenuIntent("bom dia")}, res.Sends)
	}
	assert.Empty(t, stats.keys)
}

func TestSacSectorAssignsSupportAgent(t *testing.T) {
	staff, stats := defaultFakes()
	e := newTestEngine(staff, stats, Config{})

	res := process(e, domain.StateSac, "Mercado Livre")

	assert.Equal(t, domain.StateFeedback, res.Next)
	assert.Equal(t, []string{"Mercado Livre"}, staff.supportCalls)
	assert.Equal(t, &domain.StaffRef{Kind: domain.StaffSupport, ID: 9}, res.Staff)
	assertSends(t, []domain.SendIntent{tpl(domain.TemplateSac, testName, "https://wa.me/551100000009")}, res.Sends)
	assert.Equal(t, []string{"sac_mercado livre"}, stats.keys)
}

func TestSacSectorPhrases(t *testing.T) {
	tests := map[string]string{
		"Vendedores / Loja Física": "Vendedores / Loja Física",
		"mercado livre":            "Mercado Livre",
		"Shopee / Amazon / Magalu": "Shopee / Amazon / Magalu",
		"Realizar uma Reclamação":  "Realizar uma Reclamação",
	}
	for text, sector := range tests {
		staff := &fakeStaff{support: map[string]*domain.Staff{
			sector: {ID: 2, Kind: domain.StaffSupport, Sector: sector, Link: "l"},
		}}
		e := newTestEngine(staff, &fakeStats{}, Config{})

		res := process(e, domain.StateSac, text)
		assert.Equal(t, domain.StateFeedback, res.Next, text)
		assert.Equal(t, []string{sector}, staff.supportCalls, text)
	}
}

func TestSacFallbackAndEscapes(t *testing.T) {
	staff, stats := defaultFakes()
	e := newTestEngine(staff, stats, Config{})

	res := process(e, domain.StateSac, "não sei")
	assert.Equal(t, domain.StateSac, res.Next)
	assertSends(t, []domain.SendIntent{tpl(domain.TemplateSacMenu, testName)}, res.Sends)

	res = process(e, domain.StateSac, "voltar ao menu")
	assert.Equal(t, domain.StateOptions, res.Next)
	assertSends(t, []domain.SendIntent{mainMenuIntent("bom dia")}, res.Sends)

	assert.Empty(t, staff.supportCalls)
}

func TestFinalizeFromSubmenus(t *testing.T) {
	staff, stats := defaultFakes()
	e := newTestEngine(staff, stats, Config{})

	for _, state := range []domain.State{domain.StateSac, domain.StateOutros, domain.StateFeedback} {
		for _, text := range []string{"finalizar", "Quero FINALIZAR agora", "menu ou finalizar?"} {
			res := process(e, state, text)
			assert.Equal(t, domain.StateFinalized, res.Next, "state=%s text=%q", state, text)
			assertSends(t, []domain.SendIntent{tpl(domain.TemplateFarewell)}, res.Sends)
		}
	}
	assert.Empty(t, staff.supportCalls)
	assert.Empty(t, stats.keys)
}

func TestOutrosInfoRoutes(t *testing.T) {
	tests := []struct {
		text     string
		template string
		stat     string
	}{
		{"Dúvidas sobre o site", domain.TemplateSiteFAQ, "outros_duvidas sobre o site"},
		{"Endereço", domain.TemplateAddress, "outros_endereco"},
		{"Horário de funcionamento", domain.TemplateBusinessHours, "outros_horario de funcionamento"},
		{"telefone", domain.TemplatePhone, "outros_telefone"},
		{"Número para ligações", domain.TemplatePhone, "outros_numero para ligacoes"},
		{"numero para ligacoes", domain.TemplatePhone, "outros_numero para ligacoes"},
		{"Trabalhe conosco", domain.TemplateCareers, "outros_trabalhe conosco"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			staff, stats := defaultFakes()
			e := newTestEngine(staff, stats, Config{})

			res := process(e, domain.StateOutros, tt.text)
			assert.Equal(t, domain.StateOutros, res.Next)
			assertSends(t, []domain.SendIntent{tpl(tt.template)}, res.Sends)
			assert.Equal(t, []string{tt.stat}, stats.keys)
		})
	}
}

func TestOutrosFallbackAndMenu(t *testing.T) {
	staff, stats := defaultFakes()
	e := newTestEngine(staff, stats, Config{})

	res := process(e, domain.StateOutros, "qual o preço?")
	assert.Equal(t, domain.StateOutros, res.Next)
	assertSends(t, []domain.SendIntent{tpl(domain.TemplateOutrosMenu, testName)}, res.Sends)

	res = process(e, domain.StateOutros, "Menu")
	assert.Equal(t, domain.StateOptions, res.Next)
	assert.Empty(t, stats.keys)
}

func TestFeedback(t *testing.T) {
	staff, stats := defaultFakes()
	e := newTestEngine(staff, stats, Config{})

	res := process(e, domain.StateFeedback, "obrigado")
	assert.Equal(t, domain.StateFeedback, res.Next)
	assertSends(t, []domain.SendIntent{domain.TextIntent(testUser, "Digite 'menu' ou 'finalizar'.")}, res.Sends)

	res = process(e, domain.StateFeedback, "menu")
	assert.Equal(t, domain.StateOptions, res.Next)
	assertSends(t, []domain.SendIntent{mainMenuIntent("bom dia")}, res.Sends)
}

func TestNoStaffBecomesApology(t *testing.T) {
	staff := &fakeStaff{}
	stats := &fakeStats{}
	e := newTestEngine(staff, stats, Config{})

	res := process(e, domain.StateOptions, "vendas")
	assert.Equal(t, domain.StateOptions, res.Next)
	assert.Nil(t, res.Staff)
	assertSends(t, []domain.SendIntent{domain.TextIntent(testUser, "⚠️ Erro interno. Tente novamente.")}, res.Sends)
	assert.Empty(t, stats.keys, "no stat for a failed assignment")

	res = process(e, domain.StateSac, "mercado livre")
	assert.Equal(t, domain.StateOptions, res.Next)
	assert.Equal(t, "error", res.Route)
}

func TestRotationErrorBecomesApology(t *testing.T) {
	staff := &fakeStaff{err: errors.New("database is closed")}
	e := newTestEngine(staff, &fakeStats{}, Config{})

	res := process(e, domain.StateOptions, "1")
	assert.Equal(t, domain.StateOptions, res.Next)
	require.Len(t, res.Sends, 1)
	assert.Equal(t, domain.SendText, res.Sends[0].Kind)
}

func TestStatFailureIsSwallowed(t *testing.T) {
	staff, _ := defaultFakes()
	stats := &fakeStats{err: errors.New("disk full")}
	e := newTestEngine(staff, stats, Config{})

	res := process(e, domain.StateOptions, "sac")
	assert.Equal(t, domain.StateSac, res.Next)
	assertSends(t, []domain.SendIntent{tpl(domain.TemplateSacMenu, testName)}, res.Sends)
}

func TestDevReset(t *testing.T) {
	staff, stats := defaultFakes()

	dev := newTestEngine(staff, stats, Config{AllowDevReset: true})
	for _, text := range []string{"dev_reset", "DEV_RESET", "devreset"} {
		res := process(dev, domain.StateSac, text)
		assert.True(t, res.Reset, text)
		assert.Equal(t, domain.StateOptions, res.Next)
		assertSends(t, []domain.SendIntent{domain.TextIntent(testUser, "🔄 Sessão reiniciada (DEV)")}, res.Sends)
	}

	prod := newTestEngine(staff, stats, Config{AllowDevReset: false})
	res := process(prod, domain.StateSac, "dev_reset")
	assert.False(t, res.Reset)
	assert.Equal(t, domain.StateSac, res.Next)
}

func TestDevResetTakesPrecedenceOverRestart(t *testing.T) {
	staff, stats := defaultFakes()
	e := newTestEngine(staff, stats, Config{AllowDevReset: true, RestartKeys: []string{"reset"}})

	res := process(e, domain.StateFeedback, "dev_reset")
	assert.True(t, res.Reset)
}

func TestGreetingPeriod(t *testing.T) {
	loc := loadLocation("America/Sao_Paulo")
	tests := []struct {
		hour int
		want string
	}{
		{0, "bom dia"}, {11, "bom dia"}, {12, "boa tarde"}, {17, "boa tarde"}, {18, "boa noite"}, {23, "boa noite"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, greetingPeriod(time.Date(2026, 1, 1, tt.hour, 30, 0, 0, loc)))
	}
}

func TestMainMenuUsesConfiguredTimezone(t *testing.T) {
	staff, stats := defaultFakes()
	// 20:00 UTC is 17:00 in Sao Paulo.
	evening := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	e := NewEngine(staff, stats, Config{Timezone: "America/Sao_Paulo"}, WithClock(func() time.Time { return evening }))

	res := process(e, domain.StateInitial, "oi")
	assertSends(t, []domain.SendIntent{mainMenuIntent("boa tarde")}, res.Sends)
}

func TestConfiguredLanguage(t *testing.T) {
	staff, stats := defaultFakes()
	e := newTestEngine(staff, stats, Config{Language: "en_US"})

	res := process(e, domain.StateInitial, "hi")
	require.Len(t, res.Sends, 1)
	assert.Equal(t, "en_US", res.Sends[0].Language)
}

func TestSequentialSalesRotateAcrossSellers(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "rotation.db"))
	require.NoError(t, err)
	defer repo.Close()
	ctx := context.Background()

	for _, s := range []*domain.Staff{
		{Kind: domain.StaffSeller, Name: "Ana", Link: "https://wa.me/1"},
		{Kind: domain.StaffSeller, Name: "Bruno", Link: "https://wa.me/2"},
	} {
		require.NoError(t, repo.UpsertStaff(ctx, s))
	}

	e := newTestEngine(repo, repo, Config{})
	first := process(e, domain.StateOptions, "vendas")
	second := process(e, domain.StateOptions, "vendas")

	require.NotNil(t, first.Staff)
	require.NotNil(t, second.Staff)
	assert.NotEqual(t, first.Staff.ID, second.Staff.ID)
	assert.Equal(t, "Ana", first.Sends[0].Params[1], "ties go to the first stored seller")
	assert.Equal(t, "Bruno", second.Sends[0].Params[1])

	stats, err := repo.ListStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.StatCounter{{Key: "vendas", Count: 2}}, stats)
}

func TestRouteTableCoverage(t *testing.T) {
	assert.Len(t, routes.options, 10, "accented and plain aliases collapse to one key")
	assert.Len(t, routes.sectors, 4)
	assert.Len(t, routes.info, 6, "seven phrasings collapse to six normalized keys")
}
