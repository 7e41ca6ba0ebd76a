/*
 * @module testutil/fixtures
 * @description 电商场景测试数据：客户、商品、销售、物流 CSV 文本
 * @architecture 测试基础设施 - 数据工厂
 * @documentReference DESIGN.md
 * @stateFlow 测试构造 CSV -> 摄取 -> 清洗/评分/告警断言
 * @rules 数据内容固定，断言依赖其中的重复、格式错误与孤儿记录数量
 * @dependencies strings
 * @refs service/ingestion, service/cleaning, service/pipeline
 */

package testutil

import "strings"

// CustomersCSV 16 条客户记录：id 7 出现两次(第 16 行注册更晚)，3 个邮箱格式错误
func CustomersCSV() string {
	rows := []string{
		"id_cliente,nome,email,telefone,data_nascimento,cidade,estado,data_cadastro",
		"1,Ana Souza,ana@example.com,(11) 98765-4321,1985-03-10,são paulo,sp,2024-01-15",
		"2,Bruno Lima,bruno@example.com,21987654321,1990-07-22,rio de janeiro,RJ,2024-02-01",
		"3,Carla Dias,carla.example.com,31912345678,1978-11-05,belo horizonte,MG,2024-02-11",
		"4,Diego Alves,diego@example.com,41998765432,1995-01-30,curitiba,PR,2024-03-03",
		"5,Eva Rocha,EVA@Example.COM ,51987651234,1988-09-14,porto alegre,RS,2024-03-20",
		"6,Felipe Melo,felipe@,61991234567,1992-12-01,brasília,DF,2024-04-02",
		"7,Gabi Nunes,gabi@example.com,71998761234,1999-06-18,salvador,BA,2024-04-10",
		"8,Hugo Reis,hugo@example.com,81991239876,1983-02-25,recife,PE,2024-05-05",
		"9,Iris Prado,iris@example.com,85987659876,1975-08-08,fortaleza,CE,2024-05-19",
		"10,João Paulo,joao@example,92991112233,2001-04-04,manaus,AM,2024-06-01",
		"11,Karen Luz,karen@example.com,91988887777,1969-10-10,belém,PA,2024-06-15",
		"12,Leo Costa,leo@example.com,62977776666,1994-05-27,goiânia,GO,2024-07-07",
		"13,Marta Sá,marta@example.com,27966665555,1987-03-03,vitória,ES,2024-07-21",
		"14,Nina Paz,nina@example.com,48955554444,1996-09-09,florianópolis,SC,2024-08-08",
		"15,Otávio Ramos,otavio@example.com,11955553333,1980-12-12,campinas,SP,2024-08-20",
		"7,Gabriela Nunes,gabi@example.com,71998761234,1999-06-18,salvador,BA,2024-09-01",
	}
	return strings.Join(rows, "\n") + "\n"
}

// ProductsCSV 商品记录，包含负价格、负库存、空分类与未启用商品
func ProductsCSV() string {
	rows := []string{
		"id_produto,nome_produto,categoria,preco,estoque,data_criacao,ativo",
		"101,Notebook Pro,informática,4500.00,10,2023-01-10,true",
		"102,Smartphone X,eletrônicos,-2500.00,25,2023-02-15,true",
		"103,Livro Go,livros,89.90,-3,2023-03-20,true",
		"104,Camiseta,,49.90,100,2023-04-01,true",
		"105,Fone Antigo,eletrônicos,199.90,0,2020-01-01,false",
	}
	return strings.Join(rows, "\n") + "\n"
}

// SalesCSV 销售记录：一条引用不存在的商品 999，一条总额错误，一条数量为负
func SalesCSV() string {
	rows := []string{
		"id_venda,id_cliente,id_produto,quantidade,valor_unitario,valor_total,data_venda,status",
		"1001,1,101,1,4500.00,4500.00,2025-06-01,concluída",
		"1002,2,102,2,2500.00,4000.00,2025-06-02,Pendente",
		"1003,3,999,1,10.00,10.00,2025-06-03,Concluída",
		"1004,4,103,-1,89.90,89.90,2025-06-04,Cancelada",
		"1005,5,104,3,49.90,149.70,2025-06-05,Processando",
	}
	return strings.Join(rows, "\n") + "\n"
}

// ShipmentsCSV 物流记录：一条引用不存在的销售 9999
func ShipmentsCSV() string {
	rows := []string{
		"id_entrega,id_venda,transportadora,data_envio,data_entrega_prevista,data_entrega_real,status_entrega",
		"5001,1001,correios,2025-06-02,2025-06-06,2025-06-05,entregue",
		"5002,1002,jadlog,2025-06-03,2025-06-08,,em trânsito",
		"5003,9999,correios,2025-06-04,2025-06-09,,Aguardando Envio",
	}
	return strings.Join(rows, "\n") + "\n"
}

// TechCommerceFiles 四个数据集的文件名与内容
func TechCommerceFiles() map[string]string {
	return map[string]string{
		"clientes.csv":  CustomersCSV(),
		"produtos.csv":  ProductsCSV(),
		"vendas.csv":    SalesCSV(),
		"logistica.csv": ShipmentsCSV(),
	}
}
