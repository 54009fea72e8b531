package quality

const systemPrompt = `You are an expert at evaluating response quality. Be objective and precise.
Return a single JSON object and nothing else.`

const userPrompt = `Evaluate the quality of the generated response.

## User Query
%s

## Generated Response
%s

## Sources Used
%s

## Criteria
- completeness (0.0-1.0): 1.0 answers every aspect, 0.6 partial with gaps, 0.0 does not address the query.
- accuracy (0.0-1.0): 1.0 fully supported by the sources, 0.6 some unsupported claims, 0.0 fabricated.
- clarity (0.0-1.0): 1.0 well organised and easy to follow, 0.6 understandable, 0.0 incomprehensible.

Return JSON: {"completeness": 0.0, "accuracy": 0.0, "clarity": 0.0}`
