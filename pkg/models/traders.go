package models

// TraderIdentity is one entry in the closed set of 18 traders. Exactly one
// of Class, Sphere, or Handle is set, matching Type.
type TraderIdentity struct {
	Name   string
	Type   TraderType
	Class  ForecasterClass // fundamental traders: seeding personality
	Sphere string          // noise traders: sentiment sphere
	Handle string          // user traders: tracked account
}

var roster = []TraderIdentity{
	{Name: "conservative", Type: TraderFundamental, Class: ClassConservative},
	{Name: "momentum", Type: TraderFundamental, Class: ClassMomentum},
	{Name: "historical", Type: TraderFundamental, Class: ClassHistorical},
	{Name: "balanced", Type: TraderFundamental, Class: ClassBalanced},
	{Name: "realtime", Type: TraderFundamental, Class: ClassRealtime},

	{Name: "eacc_sovereign", Type: TraderNoise, Sphere: "eacc_sovereign"},
	{Name: "america_first", Type: TraderNoise, Sphere: "america_first"},
	{Name: "blue_establishment", Type: TraderNoise, Sphere: "blue_establishment"},
	{Name: "progressive_left", Type: TraderNoise, Sphere: "progressive_left"},
	{Name: "optimizer_idw", Type: TraderNoise, Sphere: "optimizer_idw"},
	{Name: "fintwit_market", Type: TraderNoise, Sphere: "fintwit_market"},
	{Name: "builder_engineering", Type: TraderNoise, Sphere: "builder_engineering"},
	{Name: "academic_research", Type: TraderNoise, Sphere: "academic_research"},
	{Name: "osint_intel", Type: TraderNoise, Sphere: "osint_intel"},

	{Name: "oliver", Type: TraderUser, Handle: "oliver"},
	{Name: "owen", Type: TraderUser, Handle: "owen"},
	{Name: "skylar", Type: TraderUser, Handle: "skylar"},
	{Name: "tyler", Type: TraderUser, Handle: "tyler"},
}

// TraderRoster returns the 18 fixed identities in canonical order.
func TraderRoster() []TraderIdentity {
	out := make([]TraderIdentity, len(roster))
	copy(out, roster)
	return out
}

// LookupTrader resolves a trader name against the roster.
func LookupTrader(name string) (TraderIdentity, bool) {
	for _, t := range roster {
		if t.Name == name {
			return t, true
		}
	}
	return TraderIdentity{}, false
}

// ValidTraderName reports whether name belongs to the closed 18-identity set.
func ValidTraderName(name string) bool {
	_, ok := LookupTrader(name)
	return ok
}
