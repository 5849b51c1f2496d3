// Package domain define os tipos e contratos do rate limit: Key, Policy, Rule,
// Decision, Outcome, a taxonomia de erros e as capacidades RuleProvider e Conn.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura.
package domain
