package clearance

// DefaultMapping returns the built-in clearance equivalency table for the
// countries this hub ships support for out of the box. Admins can extend
// or override it at runtime via Store.Update (spec.md §3.2).
func DefaultMapping() Mapping {
	return Mapping{
		Unclassified: {
			"USA": {NationalTerm: []string{"UNCLASSIFIED", "U"}, AAL: 1, ACR: 1},
			"FRA": {NationalTerm: []string{"NON_PROTEGE", "DIFFUSION_RESTREINTE"}, AAL: 1, ACR: 1},
			"CAN": {NationalTerm: []string{"UNCLASSIFIED"}, AAL: 1, ACR: 1},
			"DEU": {NationalTerm: []string{"OFFEN", "VS_NFD"}, AAL: 1, ACR: 1},
			"GBR": {NationalTerm: []string{"OFFICIAL"}, AAL: 1, ACR: 1},
		},
		Restricted: {
			"USA": {NationalTerm: []string{"RESTRICTED"}, AAL: 2, ACR: 1},
			"FRA": {NationalTerm: []string{"RESTREINT", "RESTREINT_DEFENSE"}, AAL: 2, ACR: 1},
			"CAN": {NationalTerm: []string{"RESTRICTED", "PROTECTED_A"}, AAL: 2, ACR: 1},
			"DEU": {NationalTerm: []string{"VS_VERTRAULICH"}, AAL: 2, ACR: 1},
			"GBR": {NationalTerm: []string{"OFFICIAL_SENSITIVE"}, AAL: 2, ACR: 1},
		},
		Confidential: {
			"USA": {NationalTerm: []string{"CONFIDENTIAL"}, MFARequired: true, AAL: 2, ACR: 2},
			"FRA": {NationalTerm: []string{"CONFIDENTIEL", "CONFIDENTIEL_DEFENSE"}, MFARequired: true, AAL: 2, ACR: 2},
			"CAN": {NationalTerm: []string{"CONFIDENTIAL", "PROTECTED_B"}, MFARequired: true, AAL: 2, ACR: 2},
			"DEU": {NationalTerm: []string{"VS_GEHEIM"}, MFARequired: true, AAL: 2, ACR: 2},
			"GBR": {NationalTerm: []string{"SECRET"}, MFARequired: true, AAL: 2, ACR: 2},
		},
		Secret: {
			"USA": {NationalTerm: []string{"SECRET"}, MFARequired: true, AAL: 3, ACR: 3},
			"FRA": {NationalTerm: []string{"SECRET", "SECRET_DEFENSE"}, MFARequired: true, AAL: 3, ACR: 3},
			"CAN": {NationalTerm: []string{"SECRET", "PROTECTED_C"}, MFARequired: true, AAL: 3, ACR: 3},
			"DEU": {NationalTerm: []string{"GEHEIM"}, MFARequired: true, AAL: 3, ACR: 3},
			"GBR": {NationalTerm: []string{"TOP_SECRET_UK_EYES"}, MFARequired: true, AAL: 3, ACR: 3},
		},
		TopSecret: {
			"USA": {NationalTerm: []string{"TOP_SECRET", "TS"}, MFARequired: true, AAL: 3, ACR: 3},
			"FRA": {NationalTerm: []string{"TRES_SECRET_DEFENSE", "TRES_SECRET"}, MFARequired: true, AAL: 3, ACR: 3},
			"CAN": {NationalTerm: []string{"TOP_SECRET"}, MFARequired: true, AAL: 3, ACR: 3},
			"DEU": {NationalTerm: []string{"STRENG_GEHEIM"}, MFARequired: true, AAL: 3, ACR: 3},
			"GBR": {NationalTerm: []string{"TOP_SECRET"}, MFARequired: true, AAL: 3, ACR: 3},
		},
	}
}
