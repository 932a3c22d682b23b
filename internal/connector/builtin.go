package connector

import "github.com/vthamada/territorial-intelligence-platform-sub000/internal/config"

// BuiltinDefinitions declares the tabular and social connectors. Bespoke
// connectors live in their own subpackages; everything declarative is here.
func BuiltinDefinitions(s *config.Settings) []Definition {
	codeCols := []string{"codigo_municipio", "cod_municipio", "cd_mun", "co_municipio", "codigo_ibge", "cod_ibge", "ibge", "codmun", "municipio_codigo"}
	nameCols := []string{"municipio", "nome_municipio", "nm_mun", "no_municipio", "nome"}
	yearCols := []string{"ano", "ano_referencia", "nu_ano", "ano_base", "exercicio"}

	return []Definition{
		{
			JobName:                 "sidra_indicators_fetch",
			Source:                  "sidra",
			DatasetName:             "population",
			Wave:                    "MVP-1",
			CatalogPath:             "configs/sidra_catalog.yml",
			ManualDir:               s.ManualDir("sidra"),
			MunicipalityCodeColumns: codeCols,
			MunicipalityNameColumns: nameCols,
			ReferenceYearColumns:    yearCols,
			MetricSpecs: []MetricSpec{
				{Code: "SIDRA_POP_TOTAL", Name: "Populacao residente estimada", Unit: "pessoas", Category: "demographics", Candidates: []string{"populacao", "populacao_residente", "pop_total", "valor"}, Aggregator: AggFirst},
				{Code: "SIDRA_DENSITY", Name: "Densidade demografica", Unit: "hab/km2", Category: "demographics", Candidates: []string{"densidade", "densidade_demografica"}, Aggregator: AggFirst},
			},
		},
		{
			JobName:                 "senatran_fleet_fetch",
			Source:                  "senatran",
			DatasetName:             "vehicle_fleet",
			Wave:                    "MVP-3",
			CatalogPath:             "configs/senatran_catalog.yml",
			ManualDir:               s.ManualDir("senatran"),
			MunicipalityCodeColumns: codeCols,
			MunicipalityNameColumns: nameCols,
			ReferenceYearColumns:    yearCols,
			OnOutlierYear:           OutlierDrop,
			SheetHint:               "frota",
			MetricSpecs: []MetricSpec{
				{Code: "SENATRAN_FLEET_TOTAL", Name: "Frota total de veiculos", Unit: "veiculos", Category: "mobility", Candidates: []string{"total", "qtd_veiculos", "frota_total"}, Aggregator: AggSum},
				{Code: "SENATRAN_FLEET_AUTO", Name: "Automoveis", Unit: "veiculos", Category: "mobility", Candidates: []string{"automovel", "automoveis"}, Aggregator: AggSum},
				{Code: "SENATRAN_FLEET_MOTO", Name: "Motocicletas", Unit: "veiculos", Category: "mobility", Candidates: []string{"motocicleta", "motocicletas"}, Aggregator: AggSum},
			},
		},
		{
			JobName:                 "snis_sanitation_fetch",
			Source:                  "snis",
			DatasetName:             "sanitation",
			Wave:                    "MVP-3",
			CatalogPath:             "configs/snis_catalog.yml",
			ManualDir:               s.ManualDir("snis"),
			MunicipalityCodeColumns: codeCols,
			MunicipalityNameColumns: nameCols,
			ReferenceYearColumns:    append([]string{"ano_de_referencia"}, yearCols...),
			MetricSpecs: []MetricSpec{
				{Code: "SNIS_WATER_COVERAGE", Name: "Atendimento de agua", Unit: "%", Category: "sanitation", Candidates: []string{"in055", "indice_atendimento_agua", "atendimento_agua"}, Aggregator: AggFirst},
				{Code: "SNIS_SEWAGE_COVERAGE", Name: "Atendimento de esgoto", Unit: "%", Category: "sanitation", Candidates: []string{"in056", "indice_atendimento_esgoto", "atendimento_esgoto"}, Aggregator: AggFirst},
				{Code: "SNIS_SEWAGE_TREATED", Name: "Esgoto tratado", Unit: "%", Category: "sanitation", Candidates: []string{"in016", "esgoto_tratado"}, Aggregator: AggFirst},
			},
		},
		{
			JobName:                 "inmet_climate_fetch",
			Source:                  "inmet",
			DatasetName:             "climate",
			Wave:                    "MVP-4",
			CatalogPath:             "configs/inmet_catalog.yml",
			ManualDir:               s.ManualDir("inmet"),
			PreferManualFirst:       true,
			MunicipalityCodeColumns: codeCols,
			MunicipalityNameColumns: append([]string{"estacao", "nome_estacao"}, nameCols...),
			MetricSpecs: []MetricSpec{
				{Code: "INMET_PRECIP_TOTAL", Name: "Precipitacao acumulada", Unit: "mm", Category: "climate", Candidates: []string{"precipitacao_total_horario_mm", "precipitacao", "chuva"}, Aggregator: AggSum},
				{Code: "INMET_TEMP_MAX", Name: "Temperatura maxima", Unit: "C", Category: "climate", Candidates: []string{"temperatura_maxima_na_hora_ant_aut_c", "temperatura_maxima", "temp_max"}, Aggregator: AggMax},
				{Code: "INMET_TEMP_MIN", Name: "Temperatura minima", Unit: "C", Category: "climate", Candidates: []string{"temperatura_minima_na_hora_ant_aut_c", "temperatura_minima", "temp_min"}, Aggregator: AggMin},
			},
		},
		{
			JobName:                 "anatel_connectivity_fetch",
			Source:                  "anatel",
			DatasetName:             "connectivity",
			Wave:                    "MVP-4",
			CatalogPath:             "configs/anatel_catalog.yml",
			ManualDir:               s.ManualDir("anatel"),
			MunicipalityCodeColumns: codeCols,
			MunicipalityNameColumns: nameCols,
			ReferenceYearColumns:    yearCols,
			MetricSpecs: []MetricSpec{
				{Code: "ANATEL_BROADBAND_ACCESSES", Name: "Acessos banda larga fixa", Unit: "acessos", Category: "connectivity", Candidates: []string{"acessos", "qtd_acessos"}, Aggregator: AggSum},
				{Code: "ANATEL_FIBER_ACCESSES", Name: "Acessos por fibra", Unit: "acessos", Category: "connectivity", Candidates: []string{"acessos", "qtd_acessos"}, Aggregator: AggSum, RowFilters: map[string][]string{"tecnologia": {"fibra"}}},
			},
		},
		{
			JobName:                 "aneel_energy_fetch",
			Source:                  "aneel",
			DatasetName:             "energy",
			Wave:                    "MVP-4",
			CatalogPath:             "configs/aneel_catalog.yml",
			ManualDir:               s.ManualDir("aneel"),
			MunicipalityCodeColumns: codeCols,
			MunicipalityNameColumns: nameCols,
			ReferenceYearColumns:    yearCols,
			MetricSpecs: []MetricSpec{
				{Code: "ANEEL_GD_UNITS", Name: "Unidades de geracao distribuida", Unit: "unidades", Category: "energy", Candidates: []string{"qtd_uc_recebem_creditos", "num_geradores", "quantidade"}, Aggregator: AggCount},
				{Code: "ANEEL_GD_POWER_KW", Name: "Potencia instalada GD", Unit: "kW", Category: "energy", Candidates: []string{"potencia_instalada_kw", "potencia_kw", "potencia"}, Aggregator: AggSum},
			},
		},
		{
			JobName:                 "datasus_health_fetch",
			Source:                  "datasus",
			DatasetName:             "health",
			Wave:                    "MVP-2",
			CatalogPath:             "configs/datasus_catalog.yml",
			ManualDir:               s.ManualDir("datasus"),
			MunicipalityCodeColumns: codeCols,
			MunicipalityNameColumns: nameCols,
			ReferenceYearColumns:    yearCols,
			MetricSpecs: []MetricSpec{
				{Code: "DATASUS_LIVE_BIRTHS", Name: "Nascidos vivos", Unit: "nascimentos", Category: "health", Candidates: []string{"nascidos_vivos", "nascim", "quantidade"}, Aggregator: AggSum},
				{Code: "DATASUS_INFANT_DEATHS", Name: "Obitos infantis", Unit: "obitos", Category: "health", Candidates: []string{"obitos_infantis", "obitos_menores_1_ano"}, Aggregator: AggSum},
				{Code: "DATASUS_HEALTH_UNITS", Name: "Estabelecimentos de saude", Unit: "unidades", Category: "health", Candidates: []string{"estabelecimentos", "qtd_estabelecimentos"}, Aggregator: AggFirst},
			},
		},
		{
			JobName:                 "cecad_social_protection_fetch",
			Source:                  "cecad",
			DatasetName:             "social_protection",
			FactDatasetName:         "social_protection",
			SocialFactTable:         "fact_social_protection",
			Wave:                    "MVP-5",
			CatalogPath:             "configs/cecad_catalog.yml",
			ManualDir:               s.ManualDir("cecad"),
			PreferManualFirst:       true,
			MunicipalityCodeColumns: codeCols,
			MunicipalityNameColumns: nameCols,
			ReferenceYearColumns:    yearCols,
			MetricSpecs: []MetricSpec{
				{Code: "CECAD_CADUNICO_FAMILIES", Name: "Familias no CadUnico", Unit: "familias", Category: "social", Candidates: []string{"familias_cadastradas", "qtd_familias", "familias"}, Aggregator: AggFirst},
				{Code: "CECAD_POVERTY_FAMILIES", Name: "Familias em pobreza", Unit: "familias", Category: "social", Candidates: []string{"familias_pobreza", "familias_em_pobreza"}, Aggregator: AggFirst},
				{Code: "CECAD_BF_FAMILIES", Name: "Familias beneficiarias Bolsa Familia", Unit: "familias", Category: "social", Candidates: []string{"familias_bolsa_familia", "familias_pbf"}, Aggregator: AggFirst},
			},
		},
		{
			JobName:                 "censosuas_network_fetch",
			Source:                  "censosuas",
			DatasetName:             "assistance_network",
			FactDatasetName:         "assistance_network",
			SocialFactTable:         "fact_social_assistance_network",
			Wave:                    "MVP-5",
			CatalogPath:             "configs/censosuas_catalog.yml",
			ManualDir:               s.ManualDir("censosuas"),
			PreferManualFirst:       true,
			MunicipalityCodeColumns: codeCols,
			MunicipalityNameColumns: nameCols,
			ReferenceYearColumns:    yearCols,
			MetricSpecs: []MetricSpec{
				{Code: "CENSOSUAS_CRAS", Name: "Unidades CRAS", Unit: "unidades", Category: "social", Candidates: []string{"qtd_cras", "cras"}, Aggregator: AggFirst},
				{Code: "CENSOSUAS_CREAS", Name: "Unidades CREAS", Unit: "unidades", Category: "social", Candidates: []string{"qtd_creas", "creas"}, Aggregator: AggFirst},
				{Code: "CENSOSUAS_WORKERS", Name: "Trabalhadores do SUAS", Unit: "pessoas", Category: "social", Candidates: []string{"qtd_trabalhadores", "trabalhadores"}, Aggregator: AggSum},
			},
		},
	}
}
