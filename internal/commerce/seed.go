package commerce

// DefaultProducts is the built-in demo catalog used when no seed file is
// configured.
func DefaultProducts() []Product {
	return []Product{
		{
			ID: "dip-500", Name: "Dipirona Sódica 500mg 10 comprimidos", Category: "analgésicos",
			Description: "Analgésico e antitérmico.",
			Price:       890, PromoPrice: 690, Stock: 120,
			Symptoms: []string{"dor", "dor de cabeça", "febre"},
			Tags:     []string{"dipirona", "novalgina", "genérico"},
		},
		{
			ID: "dip-gts", Name: "Dipirona Gotas 500mg/ml 20ml", Category: "analgésicos",
			Description: "Analgésico e antitérmico em gotas.",
			Price:       1290, Stock: 40,
			Symptoms: []string{"dor", "febre"},
			Tags:     []string{"dipirona", "gotas", "infantil"},
		},
		{
			ID: "par-750", Name: "Paracetamol 750mg 20 comprimidos", Category: "analgésicos",
			Description: "Analgésico e antitérmico.",
			Price:       1450, Stock: 80,
			Symptoms: []string{"dor", "dor de cabeça", "febre", "gripe"},
			Tags:     []string{"paracetamol", "tylenol", "genérico"},
		},
		{
			ID: "ibu-400", Name: "Ibuprofeno 400mg 10 cápsulas", Category: "anti-inflamatórios",
			Description: "Anti-inflamatório, analgésico e antitérmico.",
			Price:       1690, PromoPrice: 1390, Stock: 60,
			Symptoms: []string{"dor", "dor muscular", "cólica", "febre"},
			Tags:     []string{"ibuprofeno", "advil"},
		},
		{
			ID: "dorflex", Name: "Dorflex 10 comprimidos", Category: "relaxantes musculares",
			Description: "Relaxante muscular e analgésico.",
			Price:       990, Stock: 90,
			Symptoms: []string{"dor muscular", "dor nas costas", "dor de cabeça"},
			Tags:     []string{"dorflex", "relaxante"},
		},
		{
			ID: "lor-10", Name: "Loratadina 10mg 12 comprimidos", Category: "antialérgicos",
			Description: "Antialérgico sem sonolência.",
			Price:       1590, Stock: 35,
			Symptoms: []string{"alergia", "rinite", "coceira"},
			Tags:     []string{"loratadina", "claritin", "genérico"},
		},
		{
			ID: "xar-tosse", Name: "Xarope Expectorante 120ml", Category: "gripe e tosse",
			Description: "Expectorante para tosse com catarro.",
			Price:       2190, PromoPrice: 1890, Stock: 25,
			Symptoms: []string{"tosse", "catarro", "gripe"},
			Tags:     []string{"xarope", "expectorante"},
		},
		{
			ID: "sal-eno", Name: "Sal de Fruta Eno 2 envelopes", Category: "digestivos",
			Description: "Antiácido efervescente.",
			Price:       450, Stock: 200,
			Symptoms: []string{"azia", "má digestão", "enjoo"},
			Tags:     []string{"eno", "antiácido"},
		},
		{
			ID: "ome-20", Name: "Omeprazol 20mg 28 cápsulas", Category: "digestivos",
			Description: "Inibidor de acidez gástrica.",
			Price:       2390, Stock: 30,
			Symptoms: []string{"azia", "gastrite", "refluxo"},
			Tags:     []string{"omeprazol", "genérico"},
		},
		{
			ID: "amox-500", Name: "Amoxicilina 500mg 21 cápsulas", Category: "antibióticos",
			Description: "Antibiótico. Venda sob retenção de receita.",
			Price:       3290, Stock: 15, RequiresPrescription: true,
			Tags: []string{"amoxicilina", "antibiótico"},
		},
		{
			ID: "vit-c", Name: "Vitamina C 1g 10 comprimidos efervescentes", Category: "vitaminas",
			Description: "Suplemento de vitamina C.",
			Price:       1890, PromoPrice: 1490, Stock: 70,
			Symptoms: []string{"imunidade", "gripe"},
			Tags:     []string{"vitamina", "vitamina c", "efervescente"},
		},
		{
			ID: "prot-50", Name: "Protetor Solar FPS 50 200ml", Category: "dermocosméticos",
			Description: "Proteção UVA/UVB.",
			Price:       5990, PromoPrice: 4790, Stock: 20,
			Tags: []string{"protetor solar", "fps", "sol"},
		},
		{
			ID: "soro-500", Name: "Soro Fisiológico 0,9% 500ml", Category: "primeiros socorros",
			Description: "Solução para limpeza nasal e de ferimentos.",
			Price:       690, Stock: 100,
			Symptoms: []string{"nariz entupido", "congestão nasal"},
			Tags:     []string{"soro", "fisiológico"},
		},
		{
			ID: "band-40", Name: "Curativos Adesivos 40 unidades", Category: "primeiros socorros",
			Description: "Curativos para pequenos ferimentos.",
			Price:       1190, Stock: 50,
			Symptoms: []string{"corte", "machucado"},
			Tags:     []string{"curativo", "band-aid"},
		},
		{
			ID: "termo-dig", Name: "Termômetro Digital", Category: "equipamentos",
			Description: "Medição de temperatura em 60 segundos.",
			Price:       2490, Stock: 0,
			Symptoms: []string{"febre"},
			Tags:     []string{"termômetro"},
		},
	}
}
