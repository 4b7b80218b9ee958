package storage

const ProductQueryForTest = productQuery
