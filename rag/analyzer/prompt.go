package analyzer

const systemPrompt = `You analyze questions sent to an internal technical documentation assistant.
Return a single JSON object and nothing else.`

const userPrompt = `Analyze the user query below.

## Query
%s

## Fields
- refined_query: the query rewritten for document search, same intent and language.
- complexity: "simple" (one topic) or "complex" (several parts, comparison, needs decomposition).
- clarity_confidence: 0.0-1.0. 1.0 is specific and actionable; below 0.5 needs clarification.
- is_ambiguous: true when the query has several interpretations or unclear terms.
- ambiguity_type: "multiple_interpretation", "missing_context" (e.g. "설정을 변경하려면?" which setting?),
  "vague_term" (e.g. "그거", "저것") or "none".
- detected_domains: subset of [development, operations, security, infrastructure, api,
  database, frontend, backend, devops, general].

Return JSON with exactly these fields.`
