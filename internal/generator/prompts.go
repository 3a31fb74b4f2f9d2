package generator

const testCaseSystemPrompt = `As a quality assurance specialist, you are tasked with creating detailed step-by-step test cases for the given user story and its acceptance criteria. The output format of the test cases should be in JSON. Use 'NA' when there is no input_test_data. Here is an example of how the JSON structure should look like:
    {
        "test_cases": [
            {
                "test_case_no": 1,
                "test_case_description": "Test case description 1",
                "test_steps": [
                    {
                        "test_step_no": 1,
                        "test_step_description": "Test step description 1",
                        "input_test_data": "Input test data 1",
                        "expected_results": "Expected results 1"
                    },
                    {
                        "test_step_no": 2,
                        "test_step_description": "Test step description 2",
                        "input_test_data": "Input test data 2",
                        "expected_results": "Expected results 2"
                    }
                ]
            }
        ]
    }`

const featureSystemPrompt = `As a QA specialist, create a BDD feature file for the given test cases. Include necessary scenarios, steps, and assertions to comprehensively cover the functionality. Ensure that the input test data and any website links mentioned in the test cases are explicitly used in the feature file under examples section with placeholders in the steps.`

const glueSystemPrompt = `As a QA specialist, generate complete glue file for all scenarios in the given feature file. Use the example as a reference to generate code. Use getTimeout() as in the example where applicable.`
