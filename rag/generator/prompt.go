package generator

const systemPrompt = `You are a helpful assistant that answers questions based on the provided documents. Always cite your sources.
Return a single JSON object and nothing else.`

const userPrompt = `Based on the provided documents, answer the user's question.

## User Question
%s
%s
## Retrieved Documents
%s
%s

## Instructions
1. Answer ONLY from the information in the provided documents.
2. Cite sources as [1], [2] referring to document numbers.
3. Be concise but comprehensive, and answer in Korean.
4. Never include information that is not in the documents.
5. If the documents do not contain enough information, set has_sufficient_info to false
   and explain what is missing.

Return JSON: {"response": "...", "sources": ["source path or URL", ...], "has_sufficient_info": true|false}`

const planSection = `
## Sub-questions
%s
## How to combine the answers
%s
`

const noDocuments = "검색된 문서가 없습니다."

// CannotAnswer is returned when there is no evidence to answer from.
const CannotAnswer = "죄송합니다. 내부 문서와 웹 검색에서 질문에 답할 수 있는 정보를 찾지 못했습니다. 질문을 조금 더 구체적으로 작성해 주시면 다시 찾아보겠습니다."

// Unavailable is returned when evidence exists but the model could not
// produce an answer.
const Unavailable = "죄송합니다. 답변을 생성하는 중 문제가 발생했습니다. 잠시 후 다시 시도해 주세요."
