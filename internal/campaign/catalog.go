package campaign

import "fmt"

// Entry is the static copy attached to one wave number
type Entry struct {
	ID      int
	Theme   string
	Subject string
	Hook    string
}

// Catalog maps wave numbers to their theme, subject and hook.
// A Catalog is read-only once built.
type Catalog struct {
	entries map[int]Entry
}

// NewCatalog builds a catalog from entries. Later entries win on duplicate IDs.
func NewCatalog(entries []Entry) *Catalog {
	c := &Catalog{entries: make(map[int]Entry, len(entries))}
	for _, e := range entries {
		c.entries[e.ID] = e
	}
	return c
}

// Lookup returns the entry for a wave number
func (c *Catalog) Lookup(id int) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	e, ok := c.entries[id]
	return e, ok
}

// Len returns the number of catalogued waves
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// ThemeFor returns the catalogued theme or a generic label
func (c *Catalog) ThemeFor(id int) string {
	if e, ok := c.Lookup(id); ok && e.Theme != "" {
		return e.Theme
	}
	return fmt.Sprintf("Wave %d", id)
}

// SubjectFor returns the catalogued subject or a generic label
func (c *Catalog) SubjectFor(id int) string {
	if e, ok := c.Lookup(id); ok && e.Subject != "" {
		return e.Subject
	}
	return fmt.Sprintf("Message %d", id)
}

// HookFor returns the catalogued hook line, falling back to the wave subject
func (c *Catalog) HookFor(id int, subject string) string {
	if e, ok := c.Lookup(id); ok && e.Hook != "" {
		return e.Hook
	}
	return subject
}

// DefaultCatalog returns the 42-wave catalog of the campaign
func DefaultCatalog() *Catalog {
	return NewCatalog(defaultEntries)
}

var defaultEntries = []Entry{
	{1, "L'éveil", "Tu fais partie du système", "Et si tout ce qu'on t'a dit était faux ?"},
	{2, "Les chiffres", "975 243", "C'est le nombre de personnes piégées. Tu en connais forcément."},
	{3, "Le piège fiscal", "52,6%", "Le tax wedge le plus élevé de l'OCDE. Félicitations."},
	{4, "L'invalidité", "527 000 invalides", "La Belgique fabrique des invalides. C'est un business model."},
	{5, "Arizona", "180 000 exclusions", "Arizona 2026. Ils arrivent pour toi aussi."},
	{6, "Le silence", "Pourquoi personne n'en parle ?", "Les médias regardent ailleurs. Toi non."},
	{7, "La honte", "On t'a appris à te taire", "La précarité est honteuse. C'est voulu."},
	{8, "Les mutuelles", "Tes 160€/mois financent quoi ?", "Spoiler: pas ta santé."},
	{9, "L'ONEM", "La machine à broyer", "Tu crois que c'est pour t'aider ?"},
	{10, "Les contrôles", "Coupable jusqu'à preuve du contraire", "Tu es suspect. Tu ne le savais pas ?"},
	{11, "La dépression", "Et si c'était le système le problème ?", "Tu n'es pas cassé. C'est le système."},
	{12, "L'isolement", "Diviser pour régner", "Ils ont besoin que tu te sentes seul."},
	{13, "La dette", "Tu dois déjà 50 000€", "Ta part de la dette publique. Tu as signé où ?"},
	{14, "Le travail", "Le piège de l'emploi", "Travailler te coûte parfois plus cher que le chômage."},
	{15, "Les enfants", "Ils héritent du système", "Tes enfants paieront ta retraite. Et la leur ?"},
	{16, "La colère", "Tu as le droit d'être en colère", "Mais ils préfèrent que tu sois déprimé."},
	{17, "L'espoir", "614 contacts", "Tu n'es pas seul. Voici le réseau."},
	{18, "L'action", "Que faire ?", "La question que tout le monde pose."},
	{19, "Le vote", "Voter ne suffit plus", "Ils comptent sur ton bulletin tous les 4 ans."},
	{20, "Les syndicats", "Où sont-ils ?", "Les piliers ont des fissures."},
	{21, "L'Europe", "Bruxelles contre Bruxelles", "La capitale européenne est aussi la capitale de l'absurde."},
	{22, "Le CPAS", "Le dernier filet", "Qui a des trous de plus en plus grands."},
	{23, "Le logement", "Locataire à vie", "L'immobilier belge est un casino. Tu n'as pas les jetons."},
	{24, "La santé", "Malade de travailler", "Ou malade de ne pas travailler. Tu choisis."},
	{25, "Les femmes", "70% des temps partiels", "Le piège a un genre."},
	{26, "Les jeunes", "Génération sacrifiée", "Ils l'appellent 'flexibilité'."},
	{27, "Les vieux", "La pension fantôme", "Tu cotises pour une retraite qui n'existera peut-être plus."},
	{28, "L'énergie", "Chauffage ou nourriture", "Le dilemme de 2023 est devenu permanent."},
	{29, "La bouffe", "Malbouffe obligatoire", "Manger sain coûte trop cher. C'est calculé."},
	{30, "Les transports", "Prisonnier de ta voiture", "Ou prisonnier des retards SNCB. Tu choisis."},
	{31, "Le numérique", "La fracture invisible", "Tout est en ligne. Sauf 20% de la population."},
	{32, "Les papiers", "Kafka était belge", "Tu as besoin du formulaire C4-Z7-bis. Bonne chance."},
	{33, "La langue", "Diviser par la langue", "Le fédéralisme coûte 5 milliards par an. Tu paies."},
	{34, "Les riches", "Pas de taxe sur la fortune", "Mais 52,6% sur ton travail. Logique ?"},
	{35, "Les banques", "Too big to fail", "Tu les as sauvées. Elles te remercient comment ?"},
	{36, "L'éducation", "Former des travailleurs dociles", "L'école ne t'a pas appris à questionner."},
	{37, "La culture", "Artiste = SDF", "Le statut d'artiste est un mirage."},
	{38, "L'écologie", "Écologie des riches", "La taxe carbone pèse plus sur les pauvres."},
	{39, "La tech", "Automatisation = chômage", "Les robots arrivent. Ta protection sociale non."},
	{40, "Le futur", "2030", "Dans 4 ans, combien resteront debout ?"},
	{41, "Toi", "Pourquoi ce mail ?", "Tu n'es pas là par hasard."},
	{42, "Nous", "La Constellation", "Ensemble, on existe. Seul, on disparaît."},
}
