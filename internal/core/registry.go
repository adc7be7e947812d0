package core

import (
	"fmt"

	"github.com/samber/lo"
)

// FieldCount is the number of columns in every movement record.
const FieldCount = 60

// Field ids with generated or normalized values.
const (
	FieldSequencialRegistro = "sequencialRegistro"
	FieldTipoRegistro       = "tipoRegistro"
	FieldCPFBeneficiario    = "cpfBeneficiario"
	FieldTipoMovimentacao   = "tipoMovimentacao"
	FieldDataOperacao       = "dataOperacao"
)

// FieldDefinition describes one column of the movement layout.
type FieldDefinition struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Description string `json:"description"`
	Position    int    `json:"position"` // 1-based column in the exported file
}

// fieldTable is the single source of column order. Do not reorder: the
// downstream system reads columns by position.
var fieldTable = [FieldCount]FieldDefinition{
	{FieldSequencialRegistro, "Sequencial", "Número sequencial do registro no arquivo", 1},
	{FieldTipoRegistro, "Tipo de Registro", "N=Inclusão, C=Cancelamento, A=Alteração, U=Alteração cadastral, D=Exclusão, I=Reinclusão, E=Exclusão de dependente", 2},
	{"plano", "Plano", "Código do plano contratado", 3},
	{"codigoBeneficiario", "Código do Beneficiário", "Código do beneficiário na operadora", 4},
	{"nomeCompleto", "Nome Completo", "Nome completo do beneficiário, sem abreviações", 5},
	{FieldCPFBeneficiario, "CPF", "CPF do beneficiário, somente números (11 dígitos)", 6},
	{"rgRneBeneficiario", "RG/RNE", "Número do RG ou RNE do beneficiário", 7},
	{"orgaoExpedidor", "Órgão Expedidor", "Órgão expedidor do documento de identidade", 8},
	{"nomeMae", "Nome da Mãe", "Nome completo da mãe do beneficiário", 9},
	{"dataNascimento", "Data de Nascimento", "Data de nascimento no formato DDMMAAAA", 10},
	{"sexo", "Sexo", "M=Masculino, F=Feminino", 11},
	{"cns", "CNS", "Número do Cartão Nacional de Saúde", 12},
	{"estadoCivil", "Estado Civil", "Código do estado civil", 13},
	{"logradouro", "Logradouro", "Endereço residencial", 14},
	{"numero", "Número", "Número do endereço", 15},
	{"complemento", "Complemento", "Complemento do endereço", 16},
	{"bairro", "Bairro", "Bairro", 17},
	{"cidade", "Cidade", "Cidade", 18},
	{"uf", "UF", "Sigla da unidade federativa", 19},
	{"cep", "CEP", "CEP, somente números", 20},
	{"tipoTelefone1", "Tipo Telefone 1", "Tipo do primeiro telefone", 21},
	{"dddTelefone1", "DDD Telefone 1", "DDD do primeiro telefone", 22},
	{"telefone1", "Telefone 1", "Número do primeiro telefone", 23},
	{"ramalTelefone1", "Ramal Telefone 1", "Ramal do primeiro telefone", 24},
	{"tipoTelefone2", "Tipo Telefone 2", "Tipo do segundo telefone", 25},
	{"dddTelefone2", "DDD Telefone 2", "DDD do segundo telefone", 26},
	{"telefone2", "Telefone 2", "Número do segundo telefone", 27},
	{"ramalTelefone2", "Ramal Telefone 2", "Ramal do segundo telefone", 28},
	{"servidorPublico", "Servidor Público", "Indica se o beneficiário é servidor público (S/N)", 29},
	{FieldTipoMovimentacao, "Tipo de Movimentação", "Tipo de movimentação (padrão 1)", 30},
	{"valorMensalidade", "Valor da Mensalidade", "Valor da mensalidade", 31},
	{FieldDataOperacao, "Data da Operação", "Data da operação no formato DDMMAAAA", 32},
	{"dataInicioVigencia", "Início de Vigência", "Data de início de vigência no formato DDMMAAAA", 33},
	{"motivoCancelamento", "Motivo do Cancelamento", "Código do motivo de cancelamento", 34},
	{"formaPagamento", "Forma de Pagamento", "Código da forma de pagamento", 35},
	{"banco", "Banco", "Código do banco", 36},
	{"agencia", "Agência", "Número da agência", 37},
	{"contaCorrente", "Conta Corrente", "Número da conta corrente", 38},
	{"tipoConta", "Tipo de Conta", "Tipo da conta bancária", 39},
	{"codigoVendedor", "Código do Vendedor", "Código do vendedor", 40},
	{"codigoGerente", "Código do Gerente", "Código do gerente", 41},
	{"codigoLoja", "Código da Loja", "Código da loja", 42},
	{"codigoRegional", "Código Regional", "Código da regional", 43},
	{"contrato", "Contrato", "Número do contrato", 44},
	{"locacao", "Lotação", "Lotação do beneficiário", 45},
	{"email", "E-mail", "Endereço de e-mail", 46},
	{"diaCobranca", "Dia de Cobrança", "Dia do mês para cobrança", 47},
	{"grauParentesco", "Grau de Parentesco", "Grau de parentesco com o titular", 48},
	{"vinculoCpfTitular", "CPF do Titular", "CPF do titular ao qual o dependente está vinculado", 49},
	{"codigoBeneficiarioTitular", "Código do Titular", "Código do beneficiário titular", 50},
	{"funcionalMatricula", "Matrícula Funcional", "Matrícula funcional do beneficiário", 51},
	{"centroCusto", "Centro de Custo", "Centro de custo", 52},
	{"carteirinha", "Carteirinha", "Número da carteirinha", 53},
	{"naturezaDocumentoIdentificacao", "Natureza do Documento", "Natureza do documento de identificação", 54},
	{"dataExpedicao", "Data de Expedição", "Data de expedição do documento no formato DDMMAAAA", 55},
	{"passaporteCarteiraCivil", "Passaporte/Carteira Civil", "Número do passaporte ou carteira civil", 56},
	{"atividadePrincipalDesenvolvida", "Atividade Principal", "Atividade principal desenvolvida", 57},
	{"informacaoAdicional1", "Informação Adicional 1", "Campo livre", 58},
	{"informacaoAdicional2", "Informação Adicional 2", "Campo livre", 59},
	{"informacaoAdicional3", "Informação Adicional 3", "Campo livre", 60},
}

// fieldIndex maps field id to its 0-based slot in fieldTable.
var fieldIndex = buildFieldIndex()

// buildFieldIndex checks the table invariants and indexes it by id.
// Panics on a broken table, like a duplicate registration would.
func buildFieldIndex() map[string]int {
	idx := make(map[string]int, FieldCount)
	for i, def := range fieldTable {
		if def.Position != i+1 {
			panic(fmt.Sprintf("field %s: position %d, want %d", def.ID, def.Position, i+1))
		}
		if _, exists := idx[def.ID]; exists {
			panic(fmt.Sprintf("field already registered: %s", def.ID))
		}
		idx[def.ID] = i
	}
	return idx
}

// Fields returns all field definitions in column order.
// The returned slice is a copy.
func Fields() []FieldDefinition {
	out := make([]FieldDefinition, FieldCount)
	copy(out, fieldTable[:])
	return out
}

// FieldIDs returns the field ids in column order.
func FieldIDs() []string {
	return lo.Map(fieldTable[:], func(def FieldDefinition, _ int) string {
		return def.ID
	})
}

// FieldByID returns a field definition by id.
// Returns false if not found.
func FieldByID(id string) (FieldDefinition, bool) {
	i, ok := fieldIndex[id]
	if !ok {
		return FieldDefinition{}, false
	}
	return fieldTable[i], true
}

// FieldAt returns the field definition at a 1-based column position.
func FieldAt(position int) (FieldDefinition, bool) {
	if position < 1 || position > FieldCount {
		return FieldDefinition{}, false
	}
	return fieldTable[position-1], true
}

// IsKnownField reports whether id belongs to the layout.
func IsKnownField(id string) bool {
	_, ok := fieldIndex[id]
	return ok
}
